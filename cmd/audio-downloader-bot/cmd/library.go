package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go-audio-downloader-bot/index"
	"go-audio-downloader-bot/internal/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const reindexBatchSize = 200

// libraryCmd groups commands for the full-text library index.
var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Search or rebuild the index of delivered downloads",
	Long: `The library index holds every delivered download and supports Bleve query
strings, e.g. 'lofi', '+uploader:someone' or '+userId:42'.`,
}

var librarySearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the library index",
	Args:  cobra.NoArgs,
	RunE:  runLibrarySearch,
}

var libraryReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the library index from the database",
	Args:  cobra.NoArgs,
	RunE:  runLibraryReindex,
}

func init() {
	rootCmd.AddCommand(libraryCmd)
	libraryCmd.AddCommand(librarySearchCmd)
	libraryCmd.AddCommand(libraryReindexCmd)

	librarySearchCmd.Flags().StringP("query", "q", "", "Search query (Bleve query string syntax)")
	librarySearchCmd.Flags().IntP("limit", "l", 20, "Maximum number of hits to print")
	librarySearchCmd.MarkFlagRequired("query")
}

func runLibrarySearch(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("query")
	limit, _ := cmd.Flags().GetInt("limit")
	if strings.TrimSpace(query) == "" {
		return errors.New("search query cannot be empty")
	}

	idx, err := bleve.Open(globalConfig.IndexPath)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return fmt.Errorf("library index not found at %s; run the bot or 'library reindex' first", globalConfig.IndexPath)
		}
		return fmt.Errorf("open library index %s: %w", globalConfig.IndexPath, err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	res, err := index.SearchIndex(idx, query, limit)
	if err != nil {
		return fmt.Errorf("search library: %w", err)
	}
	log.Debugf("Search finished. Hits: %d, Total: %d, Took: %s", len(res.Hits), res.Total, res.Took)

	out := cmd.OutOrStdout()
	if res.Total == 0 {
		fmt.Fprintln(out, "No results found matching your query.")
		return nil
	}
	fmt.Fprintf(out, "--- %d of %d result(s) ---\n", len(res.Hits), res.Total)
	for i, hit := range res.Hits {
		fmt.Fprintf(out, "[%d] %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		printFields(out, hit.Fields)
	}
	return nil
}

func printFields(w io.Writer, fields map[string]interface{}) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %v\n", name, fields[name])
	}
}

func runLibraryReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	unlock, err := acquireInstanceLock()
	if err != nil {
		return err
	}
	defer unlock()

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	total, err := store.CountDownloads(ctx)
	if err != nil {
		return err
	}

	if err := index.DeleteIndex(globalConfig.IndexPath); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	library, err := index.OpenLibrary(globalConfig.IndexPath)
	if err != nil {
		return err
	}
	defer library.Close()

	out := cmd.OutOrStdout()
	var writer *uilive.Writer
	if isTerminal(out) {
		writer = uilive.New()
		writer.Out = out
		writer.Start()
		defer func() {
			if writer != nil {
				writer.Stop()
			}
		}()
	}

	indexed := 0
	batch := make([]index.Item, 0, reindexBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := library.IndexBatch(batch); err != nil {
			return err
		}
		indexed += len(batch)
		batch = batch[:0]
		if writer != nil {
			fmt.Fprintf(writer, "Indexed %d/%d downloads\n", indexed, total)
		}
		return nil
	}

	err = store.ForEachDownload(ctx, func(rec models.DownloadRecord) error {
		batch = append(batch, index.ItemFromRecord(rec, models.CandidateItem{SourceID: rec.SourceID}))
		if len(batch) >= reindexBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("reindex after %d documents: %w", indexed, err)
	}

	count, err := library.DocCount()
	if err != nil {
		return err
	}
	if writer != nil {
		writer.Stop()
		writer = nil
	}
	fmt.Fprintf(out, "Reindexed %d downloads into %s (%d documents).\n", indexed, library.Path(), count)
	return nil
}
