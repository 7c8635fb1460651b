package cmd

import (
	"fmt"
	"strconv"

	"go-audio-downloader-bot/internal/config"
	"go-audio-downloader-bot/internal/deps"
	"go-audio-downloader-bot/internal/extractor"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools, directories and configuration",
	Long: `Verifies that the extractor and transcoder binaries can be found, that the
data and download directories are usable, and that a bot token is configured.
Exits non-zero when a required check fails.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().Bool("create-dirs", false, "Create missing data and download directories before checking")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if create, _ := cmd.Flags().GetBool("create-dirs"); create {
		if err := config.EnsureDirectories(globalConfig); err != nil {
			return err
		}
	}

	var rows [][]string
	failed := 0
	mark := func(ok, optional bool) string {
		switch {
		case ok:
			return "ok"
		case optional:
			return "warn"
		default:
			failed++
			return "FAIL"
		}
	}

	for _, st := range deps.CheckBinaries(deps.Requirements(globalConfig)) {
		detail := st.Detail
		if st.Available {
			detail = st.Description
		}
		rows = append(rows, []string{st.Name, mark(st.Available, st.Optional), st.Command, detail})
	}

	ext, err := extractor.New(globalConfig.ExtractorPath,
		extractor.WithTranscoder(globalConfig.TranscoderPath),
		extractor.WithAudio(globalConfig.AudioFormat, globalConfig.AudioQuality))
	if err == nil {
		version, verr := ext.Version(ctx)
		detail := version
		if verr != nil {
			detail = verr.Error()
		}
		rows = append(rows, []string{"Extractor version", mark(verr == nil, false), globalConfig.ExtractorPath, detail})
		rows = append(rows, []string{"Audio output", "ok", "", fmt.Sprintf("%s, quality %s", ext.AudioFormat(), globalConfig.AudioQuality)})
	}

	tv := deps.CheckVersion(ctx, "Transcoder version", globalConfig.TranscoderPath, "-version")
	rows = append(rows, []string{tv.Name, mark(tv.Passed, true), globalConfig.TranscoderPath, tv.Detail})

	for _, res := range []deps.Result{
		deps.CheckDirectoryAccess("Data directory", globalConfig.DataDir),
		deps.CheckDirectoryAccess("Download directory", globalConfig.DownloadDir),
	} {
		rows = append(rows, []string{res.Name, mark(res.Passed, false), "", res.Detail})
	}

	tokenErr := config.Validate(globalConfig)
	tokenDetail := "configured"
	if tokenErr != nil {
		tokenDetail = tokenErr.Error()
	}
	rows = append(rows, []string{"Bot token", mark(tokenErr == nil, false), "", tokenDetail})

	adminDetail := strconv.FormatInt(globalConfig.AdminID, 10)
	if globalConfig.AdminID == 0 {
		adminDetail = "not set; admin commands disabled"
	}
	rows = append(rows, []string{"Admin ID", mark(globalConfig.AdminID != 0, true), "", adminDetail})

	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Command", "Detail"}, rows, nil))

	if failed > 0 {
		return fmt.Errorf("%d required check(s) failed", failed)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All required checks passed.")
	return nil
}
