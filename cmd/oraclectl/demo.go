package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"shiporacle/attestation"
	"shiporacle/attestation/canonical"
	"shiporacle/attestation/coordinator"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/blockchain/client/local"
	"shiporacle/blockchain/types"
	"shiporacle/config"
	"shiporacle/internal/logging"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// fixedScore reports a chosen score, whatever the event.
type fixedScore struct {
	score int
}

func (g fixedScore) Model() string { return "demo" }

func (g fixedScore) Generate(_ context.Context, desc string) (*report.Report, error) {
	return &report.Report{Summary: desc, ConfidenceScore: g.score, Model: "demo"}, nil
}

// stalled never answers before the context ends.
type stalled struct{}

func (stalled) Model() string { return "stalled" }

func (stalled) Generate(ctx context.Context, _ string) (*report.Report, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) PublishEvent(_ context.Context, ev types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) forShipment(id string) []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.Event
	for _, ev := range l.events {
		if ev.ShipmentID == id {
			out = append(out, ev)
		}
	}
	return out
}

type demoEnv struct {
	ctx    context.Context
	signer *signer.Signer
	ledger *local.Client
	cfg    *config.BlockchainConfig
	events *eventLog
	logger *zap.Logger
}

func (e *demoEnv) eventsFor(id string) []types.Event {
	e.ledger.Contract().Flush()
	return e.events.forShipment(id)
}

func (e *demoEnv) coordinator(gen report.Generator, genTimeout time.Duration) *coordinator.Coordinator {
	ccfg := config.CoordinatorConfig{DegradedMode: "fail"}
	ccfg.SetDefaults()
	return coordinator.New(gen, e.signer, blockchain.NewSubmitter(e.ledger, e.cfg, e.logger), ccfg, genTimeout, e.logger)
}

func demo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	level := fs.String("log-level", "error", "log level for pipeline components")
	_ = fs.Parse(args)

	logger, flush, err := logging.Setup(*level, "oraclectl")
	if err != nil {
		return err
	}
	defer flush()

	seedHex, _, err := signer.Generate()
	if err != nil {
		return err
	}
	sgn, err := signer.FromHex(seedHex)
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg := &config.BlockchainConfig{
		BlockchainType:       "local",
		SubmitMaxAttempts:    3,
		SubmitInitialBackoff: "10ms",
		SubmitMaxBackoff:     "50ms",
	}
	ledger, err := local.NewLocalClient(ctx, cfg, sgn.Address(), logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	env := &demoEnv{ctx: ctx, signer: sgn, ledger: ledger, cfg: cfg, events: &eventLog{}, logger: logger}
	ledger.Subscribe(env.events)

	reg, _ := ledger.GetRegistry(ctx)
	color.Cyan("oracle %s, registry %s", sgn.Address(), reg.ID)

	scenarios := []struct {
		name string
		run  func(*demoEnv) error
	}{
		{"A  create and read back", scenarioCreate},
		{"B  out-of-range confidence is rejected", scenarioOutOfRange},
		{"C  authorized update emits Created then Updated", scenarioUpdate},
		{"D  generator timeout without degraded mode", scenarioTimeout},
	}
	failed := 0
	for _, sc := range scenarios {
		if err := sc.run(env); err != nil {
			failed++
			color.Red("✗ %s: %v", sc.name, err)
			continue
		}
		color.Green("✓ %s", sc.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
	}
	return nil
}

func scenarioCreate(e *demoEnv) error {
	c := e.coordinator(fixedScore{score: 82}, time.Second)
	res, err := c.Attest(e.ctx, coordinator.Request{EventDescription: "delay 2h", ShipmentID: "SHIP-1"})
	if err != nil {
		return err
	}
	if res.LedgerStatus != types.StatusCreated {
		return fmt.Errorf("ledger status %s, want Created", res.LedgerStatus)
	}
	rec, err := e.ledger.GetShipment(e.ctx, "SHIP-1")
	if err != nil {
		return err
	}
	if rec.ConfidenceScore != 82 {
		return fmt.Errorf("read back score %d, want 82", rec.ConfidenceScore)
	}
	if !signer.Verify(canonical.Encode(rec.ShipmentID, rec.Summary, rec.ConfidenceScore), rec.Signature, e.signer.PublicKey()) {
		return errors.New("stored signature does not verify")
	}
	evs := e.eventsFor("SHIP-1")
	if len(evs) != 1 || evs[0].Kind != types.EventCreated {
		return fmt.Errorf("events %v, want one Created", evs)
	}
	fmt.Printf("    tx %s, score %d, ledger time %d\n", res.TransactionID, rec.ConfidenceScore, rec.Timestamp)
	return nil
}

func scenarioOutOfRange(e *demoEnv) error {
	c := e.coordinator(fixedScore{score: 150}, time.Second)
	_, err := c.Attest(e.ctx, coordinator.Request{EventDescription: "sensor glitch", ShipmentID: "SHIP-B"})
	if !attestation.IsKind(err, attestation.KindInvalidConfidence) {
		return fmt.Errorf("got %v, want InvalidConfidence", err)
	}

	// The ledger refuses the same record even when signed directly.
	msg := canonical.Encode("SHIP-B", "sensor glitch", 150)
	sig, err := e.signer.Sign(msg)
	if err != nil {
		return err
	}
	_, err = e.ledger.RecordOrUpdate(e.ctx, types.SignedRecord{ShipmentID: "SHIP-B", Summary: "sensor glitch", ConfidenceScore: 150, Signature: sig})
	if !errors.Is(err, types.ErrRejected) {
		return fmt.Errorf("ledger accepted score 150: %v", err)
	}
	if _, err := e.ledger.GetShipment(e.ctx, "SHIP-B"); !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("record exists after rejection: %v", err)
	}
	fmt.Printf("    %v\n", attestation.KindInvalidConfidence)
	return nil
}

func scenarioUpdate(e *demoEnv) error {
	first, err := e.coordinator(fixedScore{score: 70}, time.Second).
		Attest(e.ctx, coordinator.Request{EventDescription: "customs hold", ShipmentID: "SHIP-2"})
	if err != nil {
		return err
	}
	second, err := e.coordinator(fixedScore{score: 90}, time.Second).
		Attest(e.ctx, coordinator.Request{EventDescription: "customs cleared", ShipmentID: "SHIP-2"})
	if err != nil {
		return err
	}
	if second.LedgerStatus != types.StatusUpdated {
		return fmt.Errorf("second submission %s, want Updated", second.LedgerStatus)
	}
	rec, err := e.ledger.GetShipment(e.ctx, "SHIP-2")
	if err != nil {
		return err
	}
	if rec.ConfidenceScore != 90 {
		return fmt.Errorf("read back score %d, want 90", rec.ConfidenceScore)
	}
	evs := e.eventsFor("SHIP-2")
	if len(evs) != 2 || evs[0].Kind != types.EventCreated || evs[1].Kind != types.EventUpdated {
		return fmt.Errorf("events %v, want Created then Updated", evs)
	}
	if evs[1].Timestamp <= evs[0].Timestamp {
		return fmt.Errorf("timestamp did not increase: %d then %d", evs[0].Timestamp, evs[1].Timestamp)
	}
	fmt.Printf("    %d → %d, timestamps %d < %d\n", first.ConfidenceScore, rec.ConfidenceScore, evs[0].Timestamp, evs[1].Timestamp)
	return nil
}

func scenarioTimeout(e *demoEnv) error {
	before := len(e.eventsFor("SHIP-D"))
	_, err := e.coordinator(stalled{}, 50*time.Millisecond).
		Attest(e.ctx, coordinator.Request{EventDescription: "port strike", ShipmentID: "SHIP-D"})
	if !attestation.IsKind(err, attestation.KindGenerationFailed) {
		return fmt.Errorf("got %v, want GenerationFailed", err)
	}
	if _, err := e.ledger.GetShipment(e.ctx, "SHIP-D"); !errors.Is(err, types.ErrNotFound) {
		return errors.New("a ledger submission happened")
	}
	if len(e.eventsFor("SHIP-D")) != before {
		return errors.New("an event was emitted")
	}
	fmt.Printf("    %v at stage %s\n", attestation.KindOf(err), attestation.StageOf(err))
	return nil
}
