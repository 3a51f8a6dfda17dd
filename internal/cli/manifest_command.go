package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"folderpull/internal/manifest"
	"folderpull/internal/model"
)

func runManifest(args []string) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	folderID := fs.String("folder-id", "", "remote folder id")
	folderName := fs.String("folder-name", "", "folder display name")
	manifestFile := fs.String("manifest-file", "", "read a saved manifest instead of fetching one")
	format := fs.String("format", "table", "output format: table|json|aria2")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	mode := strings.ToLower(strings.TrimSpace(*format))
	if mode != "table" && mode != "json" && mode != "aria2" {
		return errors.New("--format must be table, json or aria2")
	}

	var (
		doc   manifest.Document
		items []model.ManifestItem
	)
	if path := strings.TrimSpace(*manifestFile); path != "" {
		var err error
		doc, items, err = manifest.LoadFile(path)
		if err != nil {
			return err
		}
	} else {
		if strings.TrimSpace(*folderID) == "" {
			return errors.New("--folder-id is required (or use --manifest-file)")
		}
		env, err := loadEnv(cf)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), env.rt.FetchTimeout)
		defer cancel()
		doc, err = env.manifestClient().FetchDocument(ctx, *folderID, *folderName)
		if err != nil {
			return err
		}
		items = manifest.Normalize(doc.Items)
	}
	name := firstNonEmpty(*folderName, doc.FolderName, doc.FolderID, *folderID)

	switch mode {
	case "json":
		return printJSON(map[string]any{
			"folder_id":   firstNonEmpty(doc.FolderID, *folderID),
			"folder_name": name,
			"entries":     len(doc.Items),
			"eligible":    len(items),
			"items":       items,
		})
	case "aria2":
		return manifest.WriteAria2(stdout, name, items)
	}

	if len(items) == 0 {
		fmt.Fprintf(stdout, "%s: no downloadable files (%d entries)\n", name, len(doc.Items))
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPATH\tSIZE\tTYPE")
	var total int64
	for i, it := range items {
		size := "?"
		if it.SizeHint >= 0 {
			size = formatBytesIEC(it.SizeHint)
			total += it.SizeHint
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, it.Label(), size, valueOrNone(it.MimeType))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d files, %s known size", name, len(items), formatBytesIEC(total))
	if skipped := len(doc.Items) - len(items); skipped > 0 {
		fmt.Fprintf(stdout, ", %d skipped without a download link", skipped)
	}
	fmt.Fprintln(stdout)
	return nil
}
