package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"folderpull/internal/settings"
)

func runSettings(args []string) error {
	if len(args) == 0 {
		printSettingsUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runSettingsShow(args[1:])
	case "set":
		return runSettingsSet(args[1:])
	case "help", "-h", "--help":
		printSettingsUsage()
		return nil
	default:
		printSettingsUsage()
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func runSettingsShow(args []string) error {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
	path := fs.String("settings", settings.DefaultPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := strings.TrimSpace(*path)
	stored, err := settings.Read(p)
	if err != nil {
		return err
	}
	rt := settings.Resolve(settings.NewConfig(), stored)
	if *jsonOut {
		return printJSON(map[string]any{
			"settings_path": p,
			"stored":        redacted(stored),
			"effective": map[string]any{
				"server_url":            rt.ServerURL,
				"session_set":           rt.Session != "",
				"out_dir":               rt.OutDir,
				"bucket":                rt.Bucket,
				"prefix":                rt.Prefix,
				"chunk_size_bytes":      rt.ChunkSize,
				"read_timeout_seconds":  int(rt.ReadTimeout.Seconds()),
				"fetch_timeout_seconds": int(rt.FetchTimeout.Seconds()),
			},
		})
	}

	fmt.Fprintf(stdout, "settings: %s\n", p)
	fmt.Fprintf(stdout, "server_url: %s\n", valueOrNone(rt.ServerURL))
	fmt.Fprintf(stdout, "session: %s\n", sessionState(rt.Session))
	if rt.Bucket != "" {
		fmt.Fprintf(stdout, "destination: %s (prefix %q)\n", rt.Bucket, rt.Prefix)
	} else {
		fmt.Fprintf(stdout, "destination: %s\n", rt.OutDir)
	}
	fmt.Fprintf(stdout, "chunk_size: %s\n", formatBytesIEC(int64(rt.ChunkSize)))
	fmt.Fprintf(stdout, "read_timeout: %s\n", rt.ReadTimeout)
	fmt.Fprintf(stdout, "fetch_timeout: %s\n", rt.FetchTimeout)
	fmt.Fprintf(stdout, "env overrides: %s, %s\n", settings.EnvName("Server.url"), settings.EnvName("session"))
	return nil
}

func runSettingsSet(args []string) error {
	fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
	path := fs.String("settings", settings.DefaultPath, "settings file path")
	server := fs.String("server", "", "server base URL (empty keeps current)")
	session := fs.String("session", "", "session cookie value (empty keeps current)")
	clearSession := fs.Bool("clear-session", false, "remove the stored session cookie")
	outDir := fs.String("out", "", "default destination directory (empty keeps current)")
	bucket := fs.String("bucket", "", "default destination bucket URL (empty keeps current, \"none\" clears)")
	prefix := fs.String("prefix", "", "key prefix inside the bucket (empty keeps current)")
	chunkKB := fs.Int("chunk-kb", -1, "read chunk size in KiB (>=1, -1 keeps current)")
	readTimeout := fs.Int("read-timeout-s", -1, "per-file idle read timeout in seconds (>=1, -1 keeps current)")
	fetchTimeout := fs.Int("fetch-timeout-s", -1, "manifest fetch timeout in seconds (>=1, -1 keeps current)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := strings.TrimSpace(*path)
	s, err := settings.Read(p)
	if err != nil {
		return err
	}

	if v := strings.TrimSpace(*server); v != "" {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return errors.New("--server must start with http:// or https://")
		}
		s.ServerURL = v
	}
	if *clearSession {
		s.Session = ""
	} else if v := strings.TrimSpace(*session); v != "" {
		s.Session = v
	}
	if v := strings.TrimSpace(*outDir); v != "" {
		s.OutDir = v
	}
	switch v := strings.TrimSpace(*bucket); v {
	case "":
	case "none":
		s.Bucket = ""
	default:
		s.Bucket = v
	}
	if v := strings.TrimSpace(*prefix); v != "" {
		s.Prefix = v
	}
	if *chunkKB != -1 {
		if *chunkKB <= 0 {
			return errors.New("--chunk-kb must be >= 1")
		}
		s.ChunkSizeKB = *chunkKB
	}
	if *readTimeout != -1 {
		if *readTimeout <= 0 {
			return errors.New("--read-timeout-s must be >= 1")
		}
		s.ReadTimeoutSeconds = *readTimeout
	}
	if *fetchTimeout != -1 {
		if *fetchTimeout <= 0 {
			return errors.New("--fetch-timeout-s must be >= 1")
		}
		s.FetchTimeoutSeconds = *fetchTimeout
	}

	res, err := settings.Update(p, s)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(settings.UpdateResult{Path: res.Path, Settings: redacted(res.Settings)})
	}

	fmt.Fprintf(stdout, "updated settings in %s\n", res.Path)
	fmt.Fprintf(stdout, "server_url: %s\n", valueOrNone(res.Settings.ServerURL))
	fmt.Fprintf(stdout, "session: %s\n", sessionState(res.Settings.Session))
	fmt.Fprintf(stdout, "out_dir: %s\n", res.Settings.OutDir)
	fmt.Fprintf(stdout, "bucket: %s\n", valueOrNone(res.Settings.Bucket))
	fmt.Fprintf(stdout, "chunk_size_kb: %d\n", res.Settings.ChunkSizeKB)
	fmt.Fprintf(stdout, "read_timeout_seconds: %d\n", res.Settings.ReadTimeoutSeconds)
	fmt.Fprintf(stdout, "fetch_timeout_seconds: %d\n", res.Settings.FetchTimeoutSeconds)
	return nil
}

func printSettingsUsage() {
	fmt.Fprintln(stdout, "settings commands:")
	fmt.Fprintln(stdout, "  settings show [--json]")
	fmt.Fprintln(stdout, "  settings set [--server URL] [--session VALUE | --clear-session] [--out DIR]")
	fmt.Fprintln(stdout, "               [--bucket URL|none] [--prefix P] [--chunk-kb N] [--read-timeout-s N] [--fetch-timeout-s N]")
}

// redacted hides the session value in printed output.
func redacted(s settings.Settings) settings.Settings {
	if s.Session != "" {
		s.Session = "(set)"
	}
	return s
}

func sessionState(v string) string {
	if v == "" {
		return "(none)"
	}
	return "(set)"
}

func valueOrNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(none)"
	}
	return v
}
