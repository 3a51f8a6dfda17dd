package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "download", "pull":
		return runDownload(args[1:])
	case "manifest":
		return runManifest(args[1:])
	case "settings":
		return runSettings(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Fprintln(stdout, "folderpull: download a remote folder manifest into a local directory tree")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Quick Start:")
	fmt.Fprintln(stdout, "  folderpull settings set --server https://drive.example.com --session <cookie>")
	fmt.Fprintln(stdout, "  folderpull download --folder-id <id> --out ./downloads")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  download  fetch the manifest and download every file, one at a time")
	fmt.Fprintln(stdout, "  manifest  print a folder manifest (table, json or aria2 input)")
	fmt.Fprintln(stdout, "  settings  show/update stored settings")
	fmt.Fprintln(stdout, "  doctor    check settings, server reachability and destination")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Notes:")
	fmt.Fprintln(stdout, "  - Use --json on commands for machine-readable output")
	fmt.Fprintln(stdout, "  - Environment overrides use the FOLDERPULL_ prefix (FOLDERPULL_SERVER_URL, FOLDERPULL_SESSION, ...)")
	fmt.Fprintln(stdout, "  - A .env file in the working directory is loaded at startup")
}
