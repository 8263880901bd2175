package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shaunagostinho/obdscan/internal/config"
	"github.com/shaunagostinho/obdscan/internal/logger"
	"github.com/shaunagostinho/obdscan/internal/obd"
	"github.com/shaunagostinho/obdscan/internal/scanner"
	"github.com/shaunagostinho/obdscan/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/obdscan/config.yaml", "Path to config file")
	port := flag.String("port", "", "Serial port (overrides config, empty = auto-detect)")
	scan := flag.Bool("scan", false, "Run a full diagnostic scan")
	codes := flag.Bool("codes", false, "Read trouble codes only")
	readiness := flag.Bool("readiness", false, "Read readiness monitors")
	freeze := flag.Bool("freeze", false, "Read freeze frame data")
	live := flag.Bool("live", false, "Read live data once")
	monitor := flag.Bool("monitor", false, "Continuously monitor live data")
	discover := flag.Bool("discover", false, "Run UDS module discovery")
	clear := flag.Bool("clear", false, "Clear trouble codes (resets readiness monitors)")
	serve := flag.Bool("serve", false, "Run the HTTP/WebSocket server")
	replay := flag.String("replay", "", "Replay a fixture file instead of opening a serial port")
	jsonOut := flag.Bool("json", false, "Print results as JSON")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] obdscan starting")

	cfg := config.LoadConfig(*configPath)
	if *port != "" {
		cfg.Adapter.PortPath = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	sc, err := connect(cfg, *replay)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer sc.Disconnect()

	switch {
	case *scan:
		result, err := sc.Scan()
		if result != nil {
			printResult(result, *jsonOut)
		}
		if err != nil {
			log.Fatalf("[main] scan: %v", err)
		}
	case *codes:
		dtcs, err := sc.ReadDTCs()
		if err != nil {
			log.Fatalf("[main] read codes: %v", err)
		}
		printDTCs(dtcs, *jsonOut)
	case *readiness:
		st, err := sc.ReadReadiness()
		if err != nil {
			log.Fatalf("[main] readiness: %v", err)
		}
		printReadiness(st, *jsonOut)
	case *freeze:
		ff, err := sc.ReadFreezeFrame()
		if err != nil {
			log.Fatalf("[main] freeze frame: %v", err)
		}
		printFreeze(ff, *jsonOut)
	case *live:
		readings, err := sc.ReadLiveData(cfg.MonitorPIDs())
		if err != nil {
			log.Fatalf("[main] live data: %v", err)
		}
		printReadings(readings, *jsonOut)
	case *monitor:
		runMonitor(ctx, cfg, sc)
	case *discover:
		reports, err := sc.DiscoverModules()
		if err != nil {
			log.Printf("[main] discovery incomplete: %v", err)
		}
		printJSON(reports)
	case *clear:
		if !confirmClear() {
			return
		}
		if err := sc.ClearCodes(); err != nil {
			log.Fatalf("[main] clear: %v", err)
		}
		fmt.Println("Codes cleared. Readiness monitors reset; they will re-run over the next drive cycles.")
	case *serve:
		srv := server.New(cfg, sc)
		if err := srv.Run(ctx); err != nil {
			log.Printf("[main] server exited: %v", err)
		}
	default:
		flag.Usage()
	}
}

// connect opens the adapter, live or from a fixture, and brings it to
// Ready. Serial bring-up retries with backoff since cheap adapters often
// miss the first reset.
func connect(cfg *config.Config, replayPath string) (*scanner.Scanner, error) {
	if replayPath != "" {
		f, err := scanner.LoadFixture(replayPath)
		if err != nil {
			return nil, err
		}
		sc, _ := scanner.NewReplayScanner(f, cfg.Policy())
		log.Printf("[main] replaying %s (%d steps)", replayPath, len(f.Steps))
		return sc, nil
	}

	sc := scanner.New()
	sc.Manufacturer = obd.ManufacturerFromString(cfg.Vehicle.Manufacturer)
	sc.Ignition = obd.IgnitionFromString(cfg.Vehicle.Ignition)

	delay := 1 * time.Second
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = sc.Connect(cfg.AdapterSettings(), cfg.Policy()); err == nil {
			return sc, nil
		}
		log.Printf("[main] connect attempt %d/3 failed: %v (retry in %v)", attempt, err, delay)
		time.Sleep(delay)
		delay *= 2
	}
	return nil, err
}

func runMonitor(ctx context.Context, cfg *config.Config, sc *scanner.Scanner) {
	csvLog := logger.New(logger.Config{Enabled: cfg.Logging.Enabled, Path: cfg.Logging.Path})
	defer csvLog.Close()

	interval := time.Duration(cfg.Monitor.IntervalMs) * time.Millisecond
	err := sc.Monitor(ctx, cfg.MonitorPIDs(), interval, func(sample scanner.Sample) {
		csvLog.Record(sample)
		parts := make([]string, 0, len(sample.Readings))
		for _, r := range sample.Readings {
			parts = append(parts, fmt.Sprintf("%s=%.1f%s", r.Name, r.Value, r.Unit))
		}
		fmt.Printf("%s  %s\n", sample.Time.Format("15:04:05"), strings.Join(parts, "  "))
	})
	if err != nil {
		log.Printf("[main] monitor stopped: %v", err)
	}
}

func confirmClear() bool {
	fmt.Print("Clearing codes resets readiness monitors. Continue? [y/N] ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func printResult(res *scanner.ScanResult, asJSON bool) {
	if asJSON {
		printJSON(res)
		return
	}
	fmt.Println("=== Vehicle ===")
	fmt.Printf("  VIN:       %s\n", orDash(res.Vehicle.VIN))
	fmt.Printf("  Protocol:  %s (%s)\n", res.Vehicle.Protocol, res.Vehicle.ProtocolName)
	fmt.Printf("  Adapter:   %s\n", res.Vehicle.ELMVersion)
	fmt.Printf("  MIL:       %v, %d stored code(s)\n", res.Vehicle.MILOn, res.Vehicle.DTCCount)
	fmt.Println("=== Trouble Codes ===")
	printDTCs(res.DTCs, false)
	if res.Readiness != nil {
		fmt.Println("=== Readiness ===")
		printReadiness(*res.Readiness, false)
	}
	if len(res.Live) > 0 {
		fmt.Println("=== Live Data ===")
		printReadings(res.Live, false)
	}
	if res.Freeze != nil {
		fmt.Println("=== Freeze Frame ===")
		printFreeze(res.Freeze, false)
	}
	for _, section := range res.Incomplete {
		fmt.Printf("!! section %s not completed (connection lost)\n", section)
	}
}

func printDTCs(dtcs []obd.DTC, asJSON bool) {
	if asJSON {
		printJSON(dtcs)
		return
	}
	if len(dtcs) == 0 {
		fmt.Println("  no trouble codes")
		return
	}
	for _, d := range dtcs {
		desc := d.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("  %s [%s] %s\n", d.Code, d.Status, desc)
	}
}

func printReadiness(st obd.ReadinessState, asJSON bool) {
	if asJSON {
		printJSON(st)
		return
	}
	fmt.Printf("  MIL: %v, stored codes: %d\n", st.MILOn, st.DTCCount)
	for _, m := range st.Monitors {
		state := "complete"
		switch {
		case !m.Available:
			state = "not available"
		case !m.Complete:
			state = "incomplete"
		}
		fmt.Printf("  %-24s %s\n", m.Name, state)
	}
}

func printReadings(readings []obd.Reading, asJSON bool) {
	if asJSON {
		printJSON(readings)
		return
	}
	for _, r := range readings {
		fmt.Printf("  %-28s %8.2f %s\n", r.Name, r.Value, r.Unit)
	}
}

func printFreeze(ff *scanner.FreezeFrame, asJSON bool) {
	if asJSON {
		printJSON(ff)
		return
	}
	if ff == nil {
		fmt.Println("  no freeze frame stored")
		return
	}
	fmt.Printf("  captured for %s\n", ff.DTC)
	printReadings(ff.Readings, false)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
