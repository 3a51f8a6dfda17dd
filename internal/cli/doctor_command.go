package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/httputil"

	"folderpull/internal/jobstore"
	"folderpull/internal/settings"
)

const doctorPingTimeout = 10 * time.Second

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := loadEnv(cf)
	if err != nil {
		return err
	}
	res := doctor(context.Background(), env)
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Checks {
			status := "ok"
			if !c.OK {
				status = "fail"
			}
			fmt.Fprintf(stdout, "%s: %s (%s)\n", c.Name, status, c.Message)
		}
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	if !*jsonOut {
		fmt.Fprintln(stdout, "doctor: all checks passed")
	}
	return nil
}

func doctor(ctx context.Context, env runEnv) doctorResult {
	checks := make([]doctorCheck, 0, 4)

	cfgOK, cfgMessage := ensureWritableDir(filepath.Dir(env.settingsPath))
	checks = append(checks, doctorCheck{Name: "directory:settings", OK: cfgOK, Message: cfgMessage})

	if env.rt.ServerURL == "" {
		checks = append(checks, doctorCheck{
			Name:    "server:configured",
			OK:      false,
			Message: "set it with `settings set --server` or " + settings.EnvName("Server.url"),
		})
	} else {
		checks = append(checks, doctorCheck{Name: "server:configured", OK: true, Message: env.rt.ServerURL})
		ok, msg := pingServer(ctx, env.rt.ServerURL)
		checks = append(checks, doctorCheck{Name: "server:reachable", OK: ok, Message: msg})
	}

	if env.rt.Bucket != "" {
		msg := env.rt.Bucket
		err := env.provider(nil).Available()
		if err != nil {
			msg = err.Error()
		}
		checks = append(checks, doctorCheck{Name: "destination:bucket", OK: err == nil, Message: msg})
	} else {
		ok, msg := ensureWritableDir(env.rt.OutDir)
		if ok {
			if err := env.provider(nil).Available(); err != nil {
				ok, msg = false, err.Error()
			}
		}
		checks = append(checks, doctorCheck{Name: "destination:directory", OK: ok, Message: msg})
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return doctorResult{OK: ok, Checks: checks}
}

// pingServer treats any HTTP response as reachable.
func pingServer(ctx context.Context, baseURL string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, doctorPingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer func() { httputil.CloseResponse(resp) }()
	return true, "responded " + resp.Status
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := jobstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "folderpull-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
