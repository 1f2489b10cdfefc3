// betteruse drives a Chromium instance over the devtools protocol: load a
// page, read its element model, then click, type and scroll by index.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/repomirrorhq/better-use-sub001/internal/browser"
	"github.com/repomirrorhq/better-use-sub001/internal/browser/watchdogs"
	"github.com/repomirrorhq/better-use-sub001/internal/bus"
	"github.com/repomirrorhq/better-use-sub001/internal/config"
	"github.com/repomirrorhq/better-use-sub001/internal/logging"
	"github.com/repomirrorhq/better-use-sub001/internal/media"
	"github.com/repomirrorhq/better-use-sub001/internal/metrics"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("betteruse %s\n", version)
		return
	}

	var (
		startURL = flag.String("url", "", "page to open at start")
		attach   = flag.String("attach", "", "devtools websocket of a running browser to attach to")
		profile  = flag.String("profile", "", "browser profile name")
		headed   = flag.Bool("headed", false, "run with a visible browser window")
		setup    = flag.Bool("setup", false, "open a headed window for interactive sign-in, then exit")
		load     = flag.Bool("load", false, "restore saved cookies and storage at start")
		download = flag.Bool("download", false, "fetch the pinned browser build, then exit")
		verbose  = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	logging.Init(&cfg.Logging)
	metrics.Default().EnablePersistence()

	if *attach != "" {
		cfg.Browser.AttachURL = *attach
	}
	if *profile != "" {
		cfg.Browser.DefaultProfile = *profile
	}
	if *headed {
		cfg.Browser.Headless = false
	}
	// Without an explicit -profile, the start URL's domain picks one via the
	// configured domain-to-profile mapping.
	if *profile == "" && *startURL != "" {
		if u, err := url.Parse(*startURL); err == nil && u.Hostname() != "" {
			cfg.Browser.DefaultProfile = cfg.Browser.ProfileForDomain(u.Hostname())
		}
	}

	L_info("betteruse %s starting", version)

	mgr, err := browser.InitManager(cfg.Browser)
	if err != nil {
		L_fatal("browser manager: %v", err)
	}

	if *download {
		path, err := mgr.ForceDownload()
		if err != nil {
			L_fatal("browser download: %v", err)
		}
		fmt.Println(path)
		return
	}

	if *setup {
		runSetup(mgr, cfg.Browser.DefaultProfile, *startURL)
		return
	}

	store, err := media.New(cfg.Media)
	if err != nil {
		L_fatal("media store: %v", err)
	}
	store.Start()

	b := bus.NewWithConfig(bus.Config{
		HistoryLimit: cfg.Bus.HistoryLimit,
		QueueSize:    cfg.Bus.QueueSize,
	})
	session := browser.NewSession(*cfg, mgr, b)
	host := browser.NewWatchdogHost(b)

	if err := watchdogs.AttachDefaults(host, session, store); err != nil {
		L_fatal("watchdogs: %v", err)
	}

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			session.Stop("shutdown")
			<-host.Close().Done()
			b.Close()
			store.Close()
			metrics.Default().Close()
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		shutdown()
		L_fatal("session: %v", err)
	}

	go func() {
		<-ctx.Done()
		fmt.Println()
		shutdown()
		os.Exit(0)
	}()

	if *load {
		if _, err := run(b, browser.LoadStorageStateEvent{}); err != nil {
			L_warn("storage load failed", "error", err)
		}
	}
	if *startURL != "" {
		if _, err := run(b, browser.NavigateEvent{URL: *startURL}); err != nil {
			L_error("navigation failed", "url", *startURL, "error", err)
		}
	}

	repl(b)
	shutdown()
}

// runSetup opens a headed window so a person can sign in to sites; the
// resulting cookies land in the profile for later headless runs.
func runSetup(mgr *browser.Manager, profile, startURL string) {
	if startURL == "" {
		startURL = "about:blank"
	}
	if _, _, err := mgr.LaunchHeaded(profile, startURL); err != nil {
		L_fatal("headed launch: %v", err)
	}
	fmt.Println("sign in using the opened window, then press Enter to finish")
	bufio.NewReader(os.Stdin).ReadString('\n')
	mgr.CloseAll()
}

// run dispatches one intent and waits it out. The event's own timeout is
// the effective bound; the outer one only catches events without one.
func run(b *bus.Bus, ev bus.Event) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	return b.DispatchAndAwait(ctx, ev, 90*time.Second)
}

func repl(b *bus.Bus) {
	fmt.Println(`betteruse ready; "help" lists commands, "quit" exits`)
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := execute(b, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func execute(b *bus.Bus, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printHelp()
		return nil

	case "open", "tab":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <url>", cmd)
		}
		res, err := run(b, browser.NavigateEvent{URL: args[0], NewTab: cmd == "tab"})
		if err != nil {
			return err
		}
		if info, ok := res.(browser.TabInfo); ok {
			fmt.Printf("%s  %s\n", info.URL, info.Title)
		}
		return nil

	case "state", "full":
		res, err := run(b, browser.StateRequestEvent{IncludeScreenshot: cmd == "full"})
		if err != nil {
			return err
		}
		sum, ok := res.(*browser.StateSummary)
		if !ok {
			return fmt.Errorf("unexpected state result %T", res)
		}
		fmt.Print(sum.State.Describe(40))
		for _, t := range sum.Tabs {
			marker := " "
			if t.Focused {
				marker = "*"
			}
			fmt.Printf("%s [%s] %s  %s\n", marker, t.TargetID, t.URL, t.Title)
		}
		if sum.Screenshot != "" {
			fmt.Printf("screenshot: %s, %d base64 bytes\n", sum.MIMEType, len(sum.Screenshot))
		}
		return nil

	case "click", "click!":
		idx, err := index(args)
		if err != nil {
			return err
		}
		res, err := run(b, browser.ClickEvent{Index: idx, NewTab: cmd == "click!"})
		if err != nil {
			return err
		}
		if meta, ok := res.(*browser.ClickMetadata); ok && meta != nil {
			fmt.Printf("clicked [%d] at (%.0f, %.0f) via %s\n", idx, meta.X, meta.Y, meta.Strategy)
		} else {
			fmt.Printf("clicked [%d]\n", idx)
		}
		return nil

	case "type", "fill":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <index> <text>", cmd)
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad index %q", args[0])
		}
		text := strings.Join(args[1:], " ")
		_, err = run(b, browser.TypeEvent{Index: idx, Text: text, Clear: cmd == "fill"})
		return err

	case "keys":
		if len(args) < 1 {
			return errors.New("usage: keys <combo> [combo...]")
		}
		_, err := run(b, browser.SendKeysEvent{Keys: strings.Join(args, " ")})
		return err

	case "scroll":
		ev := browser.ScrollEvent{Down: true}
		for _, a := range args {
			switch {
			case a == "up":
				ev.Down = false
			case a == "down":
				ev.Down = true
			default:
				px, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("bad scroll amount %q", a)
				}
				ev.Amount = px
			}
		}
		_, err := run(b, ev)
		return err

	case "find":
		if len(args) < 1 {
			return errors.New("usage: find <text>")
		}
		_, err := run(b, browser.ScrollToTextEvent{Text: strings.Join(args, " ")})
		return err

	case "options":
		idx, err := index(args)
		if err != nil {
			return err
		}
		res, err := run(b, browser.DropdownOptionsEvent{Index: idx})
		if err != nil {
			return err
		}
		if opts, ok := res.([]browser.DropdownOption); ok {
			for _, o := range opts {
				marker := " "
				if o.Selected {
					marker = "*"
				}
				fmt.Printf("%s %d: %s (%s)\n", marker, o.Index, o.Label, o.Value)
			}
		}
		return nil

	case "select":
		if len(args) < 2 {
			return errors.New("usage: select <index> <label>")
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad index %q", args[0])
		}
		_, err = run(b, browser.DropdownSelectEvent{Index: idx, Label: strings.Join(args[1:], " ")})
		return err

	case "upload":
		if len(args) < 2 {
			return errors.New("usage: upload <index> <path> [path...]")
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad index %q", args[0])
		}
		_, err = run(b, browser.UploadEvent{Index: idx, Paths: args[1:]})
		return err

	case "tabs":
		res, err := run(b, browser.StateRequestEvent{})
		if err != nil {
			return err
		}
		if sum, ok := res.(*browser.StateSummary); ok {
			for _, t := range sum.Tabs {
				marker := " "
				if t.Focused {
					marker = "*"
				}
				fmt.Printf("%s [%s] %s  %s\n", marker, t.TargetID, t.URL, t.Title)
			}
		}
		return nil

	case "switch":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		res, err := run(b, browser.SwitchTabEvent{TargetID: target})
		if err != nil {
			return err
		}
		if info, ok := res.(browser.TabInfo); ok {
			fmt.Printf("focused [%s] %s\n", info.TargetID, info.URL)
		}
		return nil

	case "close":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		_, err := run(b, browser.CloseTabEvent{TargetID: target})
		return err

	case "shot":
		res, err := run(b, browser.ScreenshotEvent{FullPage: len(args) > 0 && args[0] == "full"})
		if err != nil {
			return err
		}
		if shot, ok := res.(*browser.ScreenshotResult); ok {
			fmt.Printf("%s %dx%d  %s\n", shot.MIMEType, shot.Width, shot.Height, shot.Path)
		}
		return nil

	case "save":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		res, err := run(b, browser.SaveStorageStateEvent{Path: path})
		if err != nil {
			return err
		}
		fmt.Printf("saved to %v\n", res)
		return nil

	case "load":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		_, err := run(b, browser.LoadStorageStateEvent{Path: path})
		return err

	case "wait":
		secs := 1.0
		if len(args) > 0 {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("bad duration %q", args[0])
			}
			secs = v
		}
		_, err := run(b, browser.WaitEvent{Seconds: secs})
		return err

	case "history":
		for _, tag := range b.RecentTags(20) {
			fmt.Println(tag)
		}
		return nil

	case "metrics", "stats":
		printMetrics()
		return nil

	case "loglevel":
		if len(args) < 1 {
			return errors.New("usage: loglevel trace|debug|info|warn|error")
		}
		logging.SetLevel(args[0])
		return nil

	case "status":
		printStatus()
		return nil

	case "profiles":
		return profilesCommand(args)

	default:
		return fmt.Errorf("unknown command %q; try help", cmd)
	}
}

func printMetrics() {
	snaps := metrics.Default().GetSnapshot()
	if len(snaps) == 0 {
		fmt.Println("no metrics recorded yet")
		return
	}

	paths := make([]string, 0, len(snaps))
	for path := range snaps {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	marks := map[metrics.HealthStatus]string{
		metrics.HealthGood:     " ",
		metrics.HealthWarning:  "!",
		metrics.HealthCritical: "X",
	}
	for _, path := range paths {
		snap := snaps[path]
		switch data := snap.Data.(type) {
		case metrics.TimingSnapshot:
			fmt.Printf("%s %-40s n=%-5d avg=%.0fms p95=%.0fms max=%.0fms\n",
				marks[snap.Health], path, data.Count, data.AvgMs, data.P95Ms, data.MaxMs)
		case metrics.HitMissSnapshot:
			fmt.Printf("%s %-40s hits=%d misses=%d rate=%.0f%%\n",
				marks[snap.Health], path, data.Hits, data.Misses, data.HitRate)
		case metrics.CounterSnapshot:
			fmt.Printf("%s %-40s count=%d\n", marks[snap.Health], path, data.Value)
		case metrics.SuccessFailSnapshot:
			fmt.Printf("%s %-40s ok=%d fail=%d rate=%.0f%% recent=%.0f%%\n",
				marks[snap.Health], path, data.Success, data.Failures, data.SuccessRate, data.RecentRate)
		}
	}
}

func printStatus() {
	statuses := browser.GetManager().Status()
	if len(statuses) == 0 {
		fmt.Println("no running browsers")
		return
	}
	for _, st := range statuses {
		fmt.Printf("%-12s pages=%-3d %s\n", st.Profile, st.PageCount, st.ControlURL)
	}
}

func profilesCommand(args []string) error {
	pm := browser.GetManager().Profiles()
	if len(args) == 0 {
		infos, err := pm.ListProfiles()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no profiles yet")
			return nil
		}
		for _, p := range infos {
			used := "never"
			if !p.LastUsed.IsZero() {
				used = p.LastUsed.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-12s %-10s last used %s\n", p.Name, browser.FormatSize(p.Size), used)
		}
		return nil
	}
	if len(args) < 2 {
		return errors.New("usage: profiles [clear|rm <name>]")
	}
	switch args[0] {
	case "clear":
		return pm.ClearProfile(args[1])
	case "rm":
		return pm.DeleteProfile(args[1])
	default:
		return fmt.Errorf("unknown profiles action %q", args[0])
	}
}

func index(args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("element index required")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("bad index %q", args[0])
	}
	return idx, nil
}

func printHelp() {
	fmt.Print(`commands:
  open <url>            navigate the focused tab
  tab <url>             open a url in a new tab
  state                 print the element model and tabs
  full                  state plus a screenshot
  click <n>             click element n (click! opens links in a new tab)
  type <n> <text>       type into element n (fill clears it first; n=0 types into focus)
  keys <combo>          send key chords, e.g. keys Control+a Backspace
  scroll [up|down] [px] scroll the page
  find <text>           scroll the first match into view
  options <n>           list a dropdown's options
  select <n> <label>    pick a dropdown option by label
  upload <n> <path...>  attach files to a file input
  tabs / switch / close tab management
  shot [full]           capture a screenshot
  save / load [path]    persist or restore cookies and storage
  wait <secs>           pause
  history               recent event tags
  metrics               operation statistics
  loglevel <level>      change log verbosity
  status                running browsers
  profiles              list profiles (profiles clear|rm <name>)
  quit                  exit
`)
}
