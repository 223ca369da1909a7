// Package main provides the site controller's entry point and CLI interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devskill-org/alteo-site-controller/breaker"
	"github.com/devskill-org/alteo-site-controller/cadence"
	"github.com/devskill-org/alteo-site-controller/config"
	"github.com/devskill-org/alteo-site-controller/control"
	"github.com/devskill-org/alteo-site-controller/esspoll"
	"github.com/devskill-org/alteo-site-controller/fieldbus"
	"github.com/devskill-org/alteo-site-controller/meterpoll"
	"github.com/devskill-org/alteo-site-controller/registermap"
	"github.com/devskill-org/alteo-site-controller/reporter"
	"github.com/devskill-org/alteo-site-controller/site"
	"github.com/devskill-org/alteo-site-controller/statusserver"
	"github.com/devskill-org/alteo-site-controller/store"
)

// subcommand dispatch table, mirroring how the teacher keeps a flat
// main.go with a handful of -flags rather than a cmd/ tree, extended here
// to verb subcommands since "info" and "validate-registermap" each need
// their own flag set.
func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		runCommand(nil)
		return
	}

	switch args[0] {
	case "run":
		runCommand(args[1:])
	case "info":
		infoCommand(args[1:])
	case "validate-registermap":
		validateRegisterMapCommand(args[1:])
	case "help", "-help", "--help", "-h":
		showHelp()
	default:
		fmt.Printf("unknown subcommand %q\n\n", args[0])
		showHelp()
		os.Exit(1)
	}
}

// runCommand starts the full controller: meter/ESS pollers, the upstream
// reporter and one regulator per control-enabled POD under one errgroup
// cancelled together by signal.NotifyContext, plus the health server,
// which is started and stopped on its own outside that errgroup.
func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[SITECTL] ", log.LstdFlags)

	st, err := store.Open(cfg.PostgresConnString)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer st.Close()

	roster, err := newRoster(st)
	if err != nil {
		logger.Fatalf("roster: %v", err)
	}

	catalog, err := loadCatalog(cfg.RegisterMapDir, roster)
	if err != nil {
		logger.Fatalf("registermap: %v", err)
	}

	fmt.Printf("Starting site controller with the following configuration:\n")
	fmt.Printf("  Cycle time:         %s\n", cfg.CycleTime)
	fmt.Printf("  Target period:      %s\n", cfg.TargetPeriod)
	fmt.Printf("  Control interval:   %s\n", cfg.ControlInterval)
	fmt.Printf("  Max parallel polls: %d\n", cfg.MaxParallelPolls)
	fmt.Printf("  Register map dir:   %s\n", cfg.RegisterMapDir)
	fmt.Printf("  Health check port:  %d\n", cfg.HealthCheckPort)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	br := breaker.NewWithCooldown(cfg.BreakerCooldown)
	bus := fieldbus.NewClient()
	bus.Timeout = cfg.FieldBusTimeout

	status := statusserver.New(roster, cfg.HealthCheckPort)
	status.Start()
	defer status.Stop(context.Background())

	meterPoller := &meterpoll.Poller{
		Catalog:     catalog,
		Bus:         bus,
		Breaker:     br,
		Store:       st,
		Plants:      roster,
		MaxParallel: cfg.MaxParallelPolls,
		Logger:      log.New(os.Stdout, "[METERPOLL] ", log.LstdFlags),
		OnRow:       func(row site.PCCTelemetryRow) { status.Broadcast(row) },
	}
	essPoller := &esspoll.Poller{
		Catalog:     catalog,
		Bus:         bus,
		Breaker:     br,
		Store:       st,
		Units:       roster,
		MaxParallel: cfg.MaxParallelPolls,
		Logger:      log.New(os.Stdout, "[ESSPOLL] ", log.LstdFlags),
		OnRow:       func(row site.ESSTelemetryRow) { status.Broadcast(row) },
	}
	rep := &reporter.Reporter{
		Store:       st,
		Plants:      roster,
		HTTPClient:  &http.Client{Timeout: cfg.UpstreamTimeout + time.Second},
		URL:         cfg.AlteoAPIURL,
		APIKey:      cfg.AlteoAPIKey,
		Timeout:     cfg.UpstreamTimeout,
		MaxParallel: cfg.MaxParallelPolls,
		Logger:      log.New(os.Stdout, "[REPORTER] ", log.LstdFlags),
	}

	regulators := buildRegulators(roster, bus, catalog, st, br, cfg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { cadence.Run(gctx, cfg.CycleTime, meterPoller.Tick); return nil })
	g.Go(func() error { cadence.Run(gctx, cfg.TargetPeriod, essPoller.Tick); return nil })
	g.Go(func() error { cadence.Run(gctx, cfg.CycleTime, rep.Tick); return nil })
	for _, reg := range regulators {
		reg := reg
		g.Go(func() error {
			cadence.Run(gctx, cfg.ControlInterval, func(c context.Context) { reg.Tick(c) })
			return nil
		})
	}

	logger.Printf("site controller started; press Ctrl+C to stop")
	<-ctx.Done()
	logger.Printf("shutdown signal received, waiting for in-flight cycles to finish...")
	_ = g.Wait()
	logger.Printf("site controller stopped")
}

// infoCommand performs a live register read against one plant (and its
// ESS unit, if any), the on-demand diagnostic read the teacher's
// ShowPlantInfo command made against its single fixed Sigenergy plant,
// generalised here to a register-map/vendor lookup against any plant in
// the roster rather than a hardcoded client.
func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	plantArg := fs.String("plant", "", "Plant ID to read live register values from")
	fs.Parse(args)

	if *plantArg == "" {
		fmt.Println("info: -plant <id> is required")
		os.Exit(1)
	}
	plantID, err := strconv.ParseInt(*plantArg, 10, 64)
	if err != nil {
		fmt.Printf("info: invalid -plant id %q: %v\n", *plantArg, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.PostgresConnString)
	if err != nil {
		fmt.Println("store:", err)
		os.Exit(1)
	}
	defer st.Close()

	roster, err := newRoster(st)
	if err != nil {
		fmt.Println("roster:", err)
		os.Exit(1)
	}

	var (
		plant site.Plant
		found bool
	)
	for _, p := range roster.plants {
		if p.PlantID == plantID {
			plant = p
			found = true
			break
		}
	}
	if !found {
		fmt.Printf("info: no plant with id %d\n", plantID)
		os.Exit(1)
	}

	catalog, err := loadCatalog(cfg.RegisterMapDir, roster)
	if err != nil {
		fmt.Println("registermap:", err)
		os.Exit(1)
	}

	bus := fieldbus.NewClient()
	bus.Timeout = cfg.FieldBusTimeout

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FieldBusTimeout+time.Second)
	defer cancel()

	fmt.Printf("Plant %d (%s)\n", plant.PlantID, plant.PodID)
	fmt.Printf("  vendor=%s type=%s rated=%.1fkW control=%v endpoint=%s:%d/%d\n",
		plant.Vendor, plant.PlantType, plant.NormalPowerKW, plant.ControlEnabled, plant.Endpoint.Host, plant.Endpoint.Port, plant.Endpoint.Slave)

	sumDef, err := catalog.Point(plant.Vendor, registermap.ClassMeter, "sum_active_power")
	if err != nil {
		fmt.Println("  sum_active_power:", err)
	} else if v, err := bus.ReadPoint(ctx, plant.Endpoint, sumDef); err != nil {
		fmt.Println("  sum_active_power: read failed:", err)
	} else {
		fmt.Printf("  sum_active_power = %.2f kW\n", v)
	}

	cosDef, err := catalog.Point(plant.Vendor, registermap.ClassMeter, "cos_phi")
	if err != nil {
		fmt.Println("  cos_phi:", err)
	} else if v, err := bus.ReadPoint(ctx, plant.Endpoint, cosDef); err != nil {
		fmt.Println("  cos_phi: read failed:", err)
	} else {
		fmt.Printf("  cos_phi = %.3f\n", registermap.NormalizeCosPhi(plant.Vendor, v))
	}

	if plant.PlantType != site.PlantPVESS {
		return
	}
	ess, ok := roster.essForPlant(plant.PlantID)()
	if !ok {
		fmt.Println("  ess: no active ESS unit for this plant")
		return
	}
	fmt.Printf("ESS %d (vendor=%s)\n", ess.ESSID, ess.Vendor)
	socDef, err := catalog.Point(ess.Vendor, registermap.ClassESS, "soc")
	if err != nil {
		fmt.Println("  soc:", err)
		return
	}
	if v, err := bus.ReadPoint(ctx, ess.Endpoint, socDef); err != nil {
		fmt.Println("  soc: read failed:", err)
	} else {
		fmt.Printf("  soc = %.1f%%\n", v)
	}
}

// validateRegisterMapCommand loads every descriptor a deployed roster
// could need from dir and reports any missing or malformed file, without
// opening a database connection or a field-bus session.
func validateRegisterMapCommand(args []string) {
	fs := flag.NewFlagSet("validate-registermap", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Println("usage: sitectl validate-registermap <dir>")
		os.Exit(1)
	}
	dir := fs.Arg(0)

	want := []struct {
		Vendor site.Vendor
		Class  registermap.DeviceClass
	}{
		{site.VendorHuawei, registermap.ClassMeter},
		{site.VendorFronius, registermap.ClassMeter},
		{site.VendorHithium, registermap.ClassESS},
	}

	if _, err := registermap.LoadCatalog(dir, want); err != nil {
		fmt.Println("FAIL:", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %s contains valid descriptors for huawei.meter, fronius.meter, hithium.ess\n", dir)
}

// roster is the in-memory, once-loaded view over the plant/ESS tables,
// satisfying meterpoll.PlantSource, esspoll.ESSSource, reporter.PlantSource
// and statusserver.StatusProvider with one shared implementation.
type roster struct {
	mu     sync.RWMutex
	plants []site.Plant
	ess    []site.ESSUnit
}

func newRoster(st *store.Gateway) (*roster, error) {
	plants, err := st.LoadPlants(context.Background())
	if err != nil {
		return nil, err
	}
	units, err := st.LoadESSUnits(context.Background())
	if err != nil {
		return nil, err
	}
	return &roster{plants: plants, ess: units}, nil
}

func (r *roster) ActivePlants() []site.Plant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]site.Plant, 0, len(r.plants))
	for _, p := range r.plants {
		if p.ControlEnabled {
			out = append(out, p)
		}
	}
	return out
}

func (r *roster) ActiveESSUnits() []site.ESSUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]site.ESSUnit, 0, len(r.ess))
	for _, e := range r.ess {
		if e.Active {
			out = append(out, e)
		}
	}
	return out
}

func (r *roster) essForPlant(plantID int64) func() (*site.ESSUnit, bool) {
	return func() (*site.ESSUnit, bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, e := range r.ess {
			if e.PlantID == plantID && e.Active {
				e := e
				return &e, true
			}
		}
		return nil, false
	}
}

// Status and Ready satisfy statusserver.StatusProvider.
func (r *roster) Status() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]any{
		"plants":      len(r.plants),
		"ess_units":   len(r.ess),
		"active_pods": len(r.ActivePlants()),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
}

func (r *roster) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plants) > 0
}

func loadCatalog(dir string, r *roster) (*registermap.Catalog, error) {
	type descKey struct {
		Vendor site.Vendor
		Class  registermap.DeviceClass
	}
	seen := make(map[string]descKey)
	for _, p := range r.plants {
		seen[string(p.Vendor)+".meter"] = descKey{p.Vendor, registermap.ClassMeter}
	}
	for _, e := range r.ess {
		seen[string(e.Vendor)+".ess"] = descKey{e.Vendor, registermap.ClassESS}
	}
	want := make([]struct {
		Vendor site.Vendor
		Class  registermap.DeviceClass
	}, 0, len(seen))
	for _, w := range seen {
		want = append(want, struct {
			Vendor site.Vendor
			Class  registermap.DeviceClass
		}{w.Vendor, w.Class})
	}
	return registermap.LoadCatalog(dir, want)
}

func buildRegulators(r *roster, bus *fieldbus.Client, catalog *registermap.Catalog, st *store.Gateway, br *breaker.Breaker, cfg *config.Config, logger *log.Logger) []*control.Regulator {
	params := control.Params{
		DeadbandKW:       cfg.DeadbandKW,
		KP:               cfg.KP,
		MinWriteInterval: cfg.MinWriteInterval,
	}
	regs := make([]*control.Regulator, 0, len(r.plants))
	for _, p := range r.plants {
		if !p.ControlEnabled {
			continue
		}
		regs = append(regs, control.NewRegulator(p, r.essForPlant(p.PlantID), bus, catalog, st, br, params, logger))
	}
	return regs
}

func showHelp() {
	fmt.Println("Site Controller - renewable asset / grid-operator setpoint coupling")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sitectl <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run                              Run the full controller (default if no command is given)")
	fmt.Println("  info -plant <id>                 Live register read of one plant (and its ESS, if any)")
	fmt.Println("  validate-registermap <dir>       Load register descriptors from dir and report errors, without connecting to anything")
	fmt.Println("  help                             Show this help message")
	fmt.Println()
	fmt.Println("Options (run, info):")
	fmt.Println("  -config string    Configuration file path (default \"config.json\")")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ALTEO_API_KEY     Required. Upstream API subscription key, never read from the config file.")
}
