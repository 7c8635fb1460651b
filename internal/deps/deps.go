// Package deps checks the external binaries and directories the bot needs.
package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go-audio-downloader-bot/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Requirement defines an external binary the bot relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Result is the outcome of a single non-binary check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Requirements lists the binaries for cfg. The transcoder is optional: the
// bot starts without it, but every conversion will fail.
func Requirements(cfg models.Config) []Requirement {
	return []Requirement{
		{
			Name:        "Extractor",
			Command:     cfg.ExtractorPath,
			Description: "Required for search and download",
		},
		{
			Name:        "Transcoder",
			Command:     cfg.TranscoderPath,
			Description: "Required to convert downloads to audio",
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckVersion runs `<command> <flag>` and reports the first line of output.
func CheckVersion(ctx context.Context, name, command, flag string) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(checkCtx, command, flag).CombinedOutput()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s %s failed (%v)", command, flag, err)}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return Result{Name: name, Passed: true, Detail: strings.TrimSpace(line)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// Preflight logs the startup self-check. It returns an error only when a
// required binary is missing or a directory is unusable; a missing transcoder
// is a warning.
func Preflight(ctx context.Context, cfg models.Config) error {
	var missing []string
	for _, st := range CheckBinaries(Requirements(cfg)) {
		entry := log.WithFields(log.Fields{"dependency": st.Name, "command": st.Command})
		switch {
		case st.Available:
			entry.Debug("Dependency available")
		case st.Optional:
			entry.Warnf("%s: %s. %s.", st.Name, st.Detail, st.Description)
		default:
			entry.Errorf("%s: %s", st.Name, st.Detail)
			missing = append(missing, st.Name)
		}
	}

	if res := CheckVersion(ctx, "Transcoder", cfg.TranscoderPath, "-version"); res.Passed {
		log.Infof("Transcoder: %s", res.Detail)
	} else {
		log.Warnf("Transcoder self-check failed: %s", res.Detail)
	}

	for _, res := range []Result{
		CheckDirectoryAccess("Data directory", cfg.DataDir),
		CheckDirectoryAccess("Download directory", cfg.DownloadDir),
	} {
		if !res.Passed {
			log.Errorf("%s: %s", res.Name, res.Detail)
			missing = append(missing, res.Name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(missing, ", "))
	}
	return nil
}
