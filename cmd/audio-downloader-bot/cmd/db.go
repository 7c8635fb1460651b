package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go-audio-downloader-bot/internal/database"
	"go-audio-downloader-bot/internal/helpers"
	"go-audio-downloader-bot/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// dbCmd represents the base command for database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the user and download database",
	Long:  `Read-only views of the users and downloads recorded by the bot.`,
}

var dbUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users, most active first",
	Args:  cobra.NoArgs,
	RunE:  runDbUsers,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats [USER_ID]",
	Short: "Show totals for one user, or for everyone when no ID is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDbStats,
}

var dbDownloadsCmd = &cobra.Command{
	Use:   "downloads USER_ID",
	Short: "List a user's most recent downloads",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbDownloads,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbUsersCmd)
	dbCmd.AddCommand(dbStatsCmd)
	dbCmd.AddCommand(dbDownloadsCmd)

	dbUsersCmd.Flags().IntP("limit", "l", 50, "Maximum number of users to list")
	dbDownloadsCmd.Flags().IntP("limit", "l", 20, "Maximum number of downloads to list")
}

func openStore(cmd *cobra.Command) (*database.Store, error) {
	if globalConfig.DatabasePath == "" {
		return nil, errors.New("database path is not set in the configuration")
	}
	log.Debugf("Opening database at: %s", globalConfig.DatabasePath)
	return database.OpenStore(cmd.Context(), globalConfig.DatabasePath)
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID %q: %w", arg, err)
	}
	return id, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func runDbUsers(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No users recorded yet.")
		return nil
	}

	rows := make([][]string, 0, len(users))
	for _, u := range users {
		name := models.ChatUser{Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}.DisplayName()
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			name,
			strconv.FormatInt(u.TotalDownloads, 10),
			u.JoinDate.Local().Format("2006-01-02"),
			formatOptionalTime(u.LastDownloadDate),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"User ID", "Name", "Downloads", "Joined", "Last Download"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
	))
	log.Infof("Displayed %d users.", len(users))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		stats, err := store.GetGlobalStats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, [][]string{
			{"Users", strconv.FormatInt(stats.Users, 10)},
			{"Downloads", strconv.FormatInt(stats.Downloads, 10)},
			{"Unique items", strconv.FormatInt(stats.UniqueItems, 10)},
			{"Database size", databaseSize(store.Path())},
		}, []columnAlignment{alignLeft, alignRight}))
		return nil
	}

	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	stats, err := store.GetUserStats(cmd.Context(), userID)
	if errors.Is(err, database.ErrNoData) {
		fmt.Fprintf(cmd.OutOrStdout(), "No downloads recorded for user %d.\n", userID)
		return nil
	}
	if err != nil {
		return err
	}
	name := "-"
	if user, err := store.GetUser(cmd.Context(), userID); err == nil {
		name = models.ChatUser{Username: user.Username, FirstName: user.FirstName, LastName: user.LastName}.DisplayName()
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, [][]string{
		{"User", name},
		{"Total downloads", strconv.FormatInt(stats.TotalDownloads, 10)},
		{"Records", strconv.FormatInt(stats.RecordCount, 10)},
		{"Unique items", strconv.FormatInt(stats.UniqueItems, 10)},
		{"Last download", formatOptionalTime(stats.LastDownloadDate)},
	}, []columnAlignment{alignLeft, alignRight}))
	return nil
}

func runDbDownloads(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListDownloads(cmd.Context(), userID, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No downloads recorded for user %d.\n", userID)
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.DownloadDate.Local().Format("2006-01-02 15:04"),
			r.SourceID,
			helpers.TruncateTitle(r.Title, 60),
			shortFingerprint(r.Fingerprint),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Date", "Source", "Title", "Fingerprint"},
		rows,
		[]columnAlignment{alignRight},
	))
	return nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func databaseSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown"
	}
	return helpers.BytesToSize(uint64(info.Size()))
}
