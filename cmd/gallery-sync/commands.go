package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/indexer"
	"smart-gallery/internal/mediatypes"
)

var (
	syncMode string

	listSort      string
	listOrder     string
	listPage      int
	listPageSize  int
	listFavorites bool
	listType      string
)

var syncCmd = &cobra.Command{
	Use:   "sync [folder]",
	Short: "Sync one folder into the catalog",
	Long: `Sync one folder and show its progress. The folder is a path relative
to BASE_OUTPUT_PATH, an absolute path below it, or a folder key. Without an
argument the top-level folder is synced.

Modes:
  full     re-extract every file
  recent   only new, changed or stale files (default)
  missing  only files not yet catalogued or without a preview`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := indexer.ParseMode(syncMode)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := resolveFolder(a.cfg.BaseDir, firstArg(args))
		if err != nil {
			return err
		}

		s, err := a.coord.StartSync(ctx, key, mode)
		if err != nil {
			return err
		}
		events, unsubscribe := s.Subscribe()
		defer unsubscribe()

		// Sessions outlive the request context; an interrupt stops them
		// through the coordinator and the terminal event still arrives.
		go func() {
			select {
			case <-ctx.Done():
				a.coord.Stop()
			case <-s.Done():
			}
		}()

		line := newProgressLine(cmd.OutOrStdout())
		for ev := range events {
			line.Render(ev)
			if ev.Done {
				break
			}
		}
		line.Finish()

		res, err := s.Wait(context.Background())
		if err != nil {
			return err
		}
		return reportResult(cmd.OutOrStdout(), res)
	},
}

var syncAllCmd = &cobra.Command{
	Use:   "sync-all",
	Short: "Sync every folder below the base directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := indexer.ParseMode(syncMode)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		res, err := a.coord.SyncAll(ctx, mode)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Synced %d folders in %s: %d processed, %d deleted, %d failures\n",
			res.Folders, time.Since(start).Round(time.Millisecond), res.Processed, res.Deleted, res.Failures)
		if res.Pruned > 0 {
			fmt.Fprintf(out, "Removed %d orphaned previews\n", res.Pruned)
		}
		for _, key := range res.Failed {
			fmt.Fprintf(out, "  failed: %s\n", displayFolder(key))
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d folders failed to sync", len(res.Failed))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [folder]",
	Short: "List the catalogued files of a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := resolveFolder(a.cfg.BaseDir, firstArg(args))
		if err != nil {
			return err
		}

		listing, err := a.db.ListFolder(ctx, key, database.ListOptions{
			Sort:          mediatypes.SortField(listSort),
			Order:         mediatypes.SortOrder(listOrder),
			Type:          mediatypes.FileType(listType),
			FavoritesOnly: listFavorites,
			Page:          listPage,
			PageSize:      listPageSize,
		})
		if err != nil {
			return err
		}
		return printListing(cmd.OutOrStdout(), listing)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.db.Stats(ctx)
		if err != nil {
			return err
		}
		last, err := a.db.GetLastFullSync(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Files:         %d\n", stats.Total)
		fmt.Fprintf(out, "Folders:       %d\n", stats.Folders)
		fmt.Fprintf(out, "Favorites:     %d\n", stats.Favorites)
		fmt.Fprintf(out, "With workflow: %d\n", stats.WithWorkflow)
		for _, t := range []mediatypes.FileType{
			mediatypes.FileTypeImage, mediatypes.FileTypeAnimatedImage,
			mediatypes.FileTypeVideo, mediatypes.FileTypeAudio,
		} {
			fmt.Fprintf(out, "  %-12s %d\n", string(t)+":", stats.ByType[string(t)])
		}
		if last.IsZero() {
			fmt.Fprintln(out, "Last full sync: never")
		} else {
			fmt.Fprintf(out, "Last full sync: %s\n", last.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, syncAllCmd} {
		c.Flags().StringVarP(&syncMode, "mode", "m", string(indexer.ModeRecent), "sync mode: full, recent or missing")
	}

	listCmd.Flags().StringVar(&listSort, "sort", string(mediatypes.SortByName), "sort by name or mtime")
	listCmd.Flags().StringVar(&listOrder, "order", string(mediatypes.SortAsc), "asc or desc")
	listCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 100, "items per page")
	listCmd.Flags().BoolVar(&listFavorites, "favorites", false, "only favorites")
	listCmd.Flags().StringVar(&listType, "type", "", "only this type: image, animated_image, video or audio")

	rootCmd.AddCommand(syncCmd, syncAllCmd, listCmd, statsCmd)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// resolveFolder turns a directory path or a folder key into a folder key.
func resolveFolder(base, arg string) (string, error) {
	if arg == "" || arg == "." || arg == folders.RootKey {
		return folders.RootKey, nil
	}

	dir := arg
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		abs, err := folders.Within(base, dir)
		if err != nil {
			return "", fmt.Errorf("%s: %w", arg, err)
		}
		return folders.Key(base, abs)
	}

	if _, err := folders.Dir(base, arg); err == nil {
		return arg, nil
	} else if errors.Is(err, folders.ErrOutsideBase) {
		return "", fmt.Errorf("%s: %w", arg, err)
	}
	return "", fmt.Errorf("%s: not a folder below %s or a folder key", arg, base)
}

// displayFolder renders a folder key as its relative path.
func displayFolder(key string) string {
	if key == folders.RootKey {
		return "."
	}
	if rel, err := base64.URLEncoding.DecodeString(key); err == nil {
		return string(rel)
	}
	return key
}

func reportResult(w io.Writer, res indexer.Result) error {
	fmt.Fprintf(w, "%s: %s, %d/%d processed, %d deleted\n",
		displayFolder(res.FolderKey), res.State, res.Processed, res.Total, res.Deleted)
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  failed: %s: %s\n", f.Path, f.Reason)
	}
	if res.State == indexer.StateFailed {
		if res.Err != nil {
			return res.Err
		}
		return errors.New("sync failed")
	}
	return nil
}

func printListing(w io.Writer, l *database.Listing) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tMODIFIED\tSIZE\tWORKFLOW\tFAVORITE")
	for _, e := range l.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Name, e.Type, time.Unix(e.ModTime, 0).Format("2006-01-02 15:04"), e.Size,
			yesNo(e.HasWorkflow), yesNo(e.IsFavorite))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d/%d, %d files\n", l.Page, l.TotalPages, l.TotalItems)
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
