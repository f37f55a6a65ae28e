package coordinator

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"shiporacle/attestation"
	"shiporacle/attestation/canonical"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/blockchain/types"
	"shiporacle/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage is a step of one attestation run.
type Stage string

const (
	StageReceived        Stage = "Received"
	StageReportGenerated Stage = "ReportGenerated"
	StageSigned          Stage = "Signed"
	StageSubmitted       Stage = "Submitted"
	StageConfirmed       Stage = "Confirmed"
	StageFailed          Stage = "Failed"
)

// Request asks for one attestation. An empty ShipmentID is generated.
type Request struct {
	RequestID        string `json:"request_id,omitempty"`
	EventDescription string `json:"event_description"`
	ShipmentID       string `json:"shipment_id,omitempty"`
}

// Result describes how far a run got. On success Stage is Confirmed and the
// ledger fields are set.
type Result struct {
	RequestID       string                 `json:"request_id,omitempty"`
	ShipmentID      string                 `json:"shipment_id"`
	Stage           Stage                  `json:"stage"`
	Summary         string                 `json:"summary,omitempty"`
	ConfidenceScore int                    `json:"confidence_score"`
	Model           string                 `json:"model,omitempty"`
	Degraded        bool                   `json:"degraded"`
	Signature       []byte                 `json:"-"`
	SignatureHex    string                 `json:"signature,omitempty"`
	PublicKeyHex    string                 `json:"public_key"`
	SignerAddress   string                 `json:"signer_address"`
	TransactionID   string                 `json:"tx_id,omitempty"`
	BlockHeight     uint64                 `json:"block_height,omitempty"`
	LedgerTimestamp int64                  `json:"ledger_timestamp,omitempty"`
	LedgerStatus    types.ProcessingStatus `json:"ledger_status,omitempty"`
	Events          []types.Event          `json:"events,omitempty"`
	ProcessingTime  time.Duration          `json:"-"`
}

// Transition is reported to observers at every stage change.
type Transition struct {
	RequestID  string
	ShipmentID string
	Stage      Stage
	At         time.Time
	Result     *Result // snapshot at this stage
	Err        error   // set for StageFailed
}

// Observer receives stage transitions synchronously, in order.
type Observer interface {
	OnTransition(ctx context.Context, tr Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, tr Transition)

// OnTransition implements Observer.
func (f ObserverFunc) OnTransition(ctx context.Context, tr Transition) { f(ctx, tr) }

// Signer signs canonical payloads with the oracle key.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
	Address() string
}

// Submitter delivers a signed record to the ledger, retrying internally.
type Submitter interface {
	Submit(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

// WithClock replaces the wall clock used for ids and processing time.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator drives Received → ReportGenerated → Signed → Submitted →
// Confirmed, stopping at the first failure.
type Coordinator struct {
	generator  report.Generator
	signer     Signer
	submitter  Submitter
	cfg        config.CoordinatorConfig
	genTimeout time.Duration
	observers  []Observer
	now        func() time.Time
	logger     *zap.Logger
}

// New creates a Coordinator. generatorTimeout bounds each report generation;
// zero leaves it to the caller's context.
func New(gen report.Generator, s Signer, sub Submitter, cfg config.CoordinatorConfig, generatorTimeout time.Duration, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		generator:  gen,
		signer:     s,
		submitter:  sub,
		cfg:        cfg,
		genTimeout: generatorTimeout,
		now:        time.Now,
		logger:     logger.Named("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generator returns the injected report generator.
func (c *Coordinator) Generator() report.Generator {
	return c.generator
}

// Attest runs one attestation. The returned Result is never nil; when err is
// non-nil it is an *attestation.Error and Result.Stage is Failed.
func (c *Coordinator) Attest(ctx context.Context, req Request) (*Result, error) {
	start := c.now()
	res := &Result{
		RequestID:     req.RequestID,
		ShipmentID:    strings.TrimSpace(req.ShipmentID),
		PublicKeyHex:  hex.EncodeToString(c.signer.PublicKey()),
		SignerAddress: c.signer.Address(),
	}
	defer func() { res.ProcessingTime = c.now().Sub(start) }()

	if strings.TrimSpace(req.EventDescription) == "" {
		return c.fail(ctx, res, attestation.NewError(attestation.KindInvalidInput, attestation.StageIntake, "event description is empty"))
	}
	if res.ShipmentID == "" {
		res.ShipmentID = c.newShipmentID(start)
	}
	c.advance(ctx, res, StageReceived)

	rep, err := c.generate(ctx, req.EventDescription)
	if err != nil {
		if c.cfg.DegradedMode != "degrade" || ctx.Err() != nil {
			return c.fail(ctx, res, attestation.WrapError(attestation.KindGenerationFailed, attestation.StageGeneration,
				fmt.Sprintf("report generation with %s failed", c.generator.Model()), err))
		}
		c.logger.Warn("Report generation failed, using degraded report",
			zap.String("shipment_id", res.ShipmentID), zap.Error(err))
		rep = report.Degraded(req.EventDescription, c.cfg.DegradedScore())
	}
	res.Summary = rep.Summary
	res.ConfidenceScore = rep.ConfidenceScore
	res.Model = rep.Model
	res.Degraded = rep.Degraded
	c.advance(ctx, res, StageReportGenerated)

	if rep.ConfidenceScore < 0 || rep.ConfidenceScore > 100 {
		return c.fail(ctx, res, attestation.NewError(attestation.KindInvalidConfidence, attestation.StageSigning,
			fmt.Sprintf("confidence score %d is outside [0,100]", rep.ConfidenceScore)))
	}

	msg := canonical.Encode(res.ShipmentID, res.Summary, res.ConfidenceScore)
	sig, err := c.signer.Sign(msg)
	if err != nil {
		if attestation.KindOf(err) == "" {
			err = attestation.WrapError(attestation.KindSigningUnavailable, attestation.StageSigning, "signing failed", err)
		}
		return c.fail(ctx, res, err)
	}
	if !c.cfg.SkipSelfVerify && !signer.Verify(msg, sig, c.signer.PublicKey()) {
		return c.fail(ctx, res, attestation.NewError(attestation.KindSigningUnavailable, attestation.StageSigning,
			"signature failed self-verification"))
	}
	res.Signature = sig
	res.SignatureHex = hex.EncodeToString(sig)
	c.advance(ctx, res, StageSigned)

	c.advance(ctx, res, StageSubmitted)
	receipt, err := c.submitter.Submit(ctx, types.SignedRecord{
		ShipmentID:      res.ShipmentID,
		Summary:         res.Summary,
		ConfidenceScore: res.ConfidenceScore,
		Signature:       sig,
	})
	if err != nil {
		return c.fail(ctx, res, submissionError(ctx, err))
	}

	res.TransactionID = receipt.TransactionID
	res.BlockHeight = receipt.BlockHeight
	res.LedgerTimestamp = receipt.Timestamp
	res.LedgerStatus = receipt.Status
	res.Events = receipt.Events
	if receipt.SignerAddress != "" {
		res.SignerAddress = receipt.SignerAddress
	}
	c.advance(ctx, res, StageConfirmed)

	c.logger.Info("Attestation confirmed",
		zap.String("request_id", res.RequestID),
		zap.String("shipment_id", res.ShipmentID),
		zap.Int("confidence_score", res.ConfidenceScore),
		zap.String("tx_id", res.TransactionID),
		zap.String("ledger_status", string(res.LedgerStatus)),
		zap.Bool("degraded", res.Degraded))
	return res, nil
}

func (c *Coordinator) generate(ctx context.Context, desc string) (*report.Report, error) {
	if c.genTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.genTimeout)
		defer cancel()
	}
	rep, err := c.generator.Generate(ctx, desc)
	if err != nil {
		return nil, err
	}
	if rep == nil || strings.TrimSpace(rep.Summary) == "" {
		return nil, report.ErrEmptyReport
	}
	return rep, nil
}

func (c *Coordinator) newShipmentID(at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", c.cfg.ShipmentIDPrefix, at.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (c *Coordinator) advance(ctx context.Context, res *Result, stage Stage) {
	res.Stage = stage
	c.notify(ctx, Transition{RequestID: res.RequestID, ShipmentID: res.ShipmentID, Stage: stage, At: c.now(), Result: snapshot(res)})
}

func (c *Coordinator) fail(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Stage = StageFailed
	c.logger.Warn("Attestation failed",
		zap.String("request_id", res.RequestID),
		zap.String("shipment_id", res.ShipmentID),
		zap.String("kind", string(attestation.KindOf(err))),
		zap.String("stage", string(attestation.StageOf(err))),
		zap.Error(err))
	c.notify(ctx, Transition{RequestID: res.RequestID, ShipmentID: res.ShipmentID, Stage: StageFailed, At: c.now(), Result: snapshot(res), Err: err})
	return res, err
}

func (c *Coordinator) notify(ctx context.Context, tr Transition) {
	for _, o := range c.observers {
		o.OnTransition(ctx, tr)
	}
}

// submissionError makes sure ledger failures carry a submission tag.
func submissionError(ctx context.Context, err error) error {
	if attestation.KindOf(err) != "" {
		return err
	}
	if ctx.Err() != nil || blockchain.IsTransient(err) {
		return attestation.WrapError(attestation.KindLedgerUnreachable, attestation.StageSubmission, "ledger unreachable", err)
	}
	return attestation.WrapError(attestation.KindLedgerRejected, attestation.StageSubmission, "ledger rejected submission", err)
}

func snapshot(res *Result) *Result {
	cp := *res
	return &cp
}
