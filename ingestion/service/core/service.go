package service

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"shiporacle/attestation"
	"shiporacle/attestation/canonical"
	"shiporacle/attestation/coordinator"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/blockchain/client/chainmaker"
	"shiporacle/blockchain/types"
	"shiporacle/config"
	"shiporacle/internal/messaging/producer"
	"shiporacle/storage/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAsyncDisabled is returned by the queued operations when the gateway runs
// without a status store and producer.
var ErrAsyncDisabled = errors.New("asynchronous attestation is not enabled")

// SampleEvent is the event description used by the generator self test.
const SampleEvent = "Container MSKU-4821 held at Rotterdam customs for 6 hours due to missing documentation"

// AttestInput defines the information required for an attestation
type AttestInput struct {
	EventDescription string
	ShipmentID       string // Optional, generated when empty
}

// SubmitResult is returned when a request is accepted for queued processing
type SubmitResult struct {
	RequestID         string    `json:"request_id"`
	ShipmentID        string    `json:"shipment_id,omitempty"`
	Status            string    `json:"status"`
	ReceivedTimestamp time.Time `json:"received_at"`
}

// ShipmentView is a ledger record together with its signature check against
// the oracle key.
type ShipmentView struct {
	*types.ShipmentRecord
	SignatureHex string `json:"signature_hex"`
	Verified     bool   `json:"signature_valid"`
}

// Info describes the running oracle.
type Info struct {
	Status        string `json:"status"`
	LedgerType    string `json:"network"`
	ContractName  string `json:"contract"`
	Model         string `json:"ai_model"`
	MockMode      bool   `json:"mock_mode"`
	DegradedMode  string `json:"degraded_mode"`
	PublicKey     string `json:"oracle_public_key"`
	SignerAddress string `json:"oracle_address"`
	RegistryID    string `json:"registry_id,omitempty"`
	AsyncEnabled  bool   `json:"async_enabled"`
}

// LLMTestResult is the outcome of the generator self test.
type LLMTestResult struct {
	Model  string              `json:"model"`
	Probe  *report.ModelStatus `json:"probe,omitempty"`
	Report *report.Report      `json:"report,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Deps are the collaborators of a Service. Store and Producer are optional;
// without them the queued operations return ErrAsyncDisabled.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Signer      *signer.Signer
	Ledger      blockchain.LedgerClient
	LedgerCfg   *config.BlockchainConfig
	Oracle      config.OracleConfig

	Store    store.Store
	Producer producer.Producer
	Batch    config.BatchProcessorConfig
}

// Service encapsulates the core business logic of the API gateway
type Service struct {
	deps           Deps
	logger         *zap.Logger
	batchProcessor *BatchProcessor
}

// NewService creates a new Service instance
func NewService(deps Deps, logger *zap.Logger) *Service {
	s := &Service{deps: deps, logger: logger.Named("service")}
	if deps.Store != nil && deps.Producer != nil {
		s.batchProcessor = NewBatchProcessor(deps.Batch, deps.Store, deps.Producer, logger)
	}
	return s
}

// AsyncEnabled reports whether queued submission is available.
func (s *Service) AsyncEnabled() bool {
	return s.batchProcessor != nil
}

// Attest runs the attestation pipeline inline and returns its result.
func (s *Service) Attest(ctx context.Context, input *AttestInput) (*coordinator.Result, error) {
	return s.deps.Coordinator.Attest(ctx, coordinator.Request{
		EventDescription: input.EventDescription,
		ShipmentID:       input.ShipmentID,
	})
}

// SubmitAttestation accepts a request for queued processing. The request is
// recorded and published in the background; the returned id is valid at once.
func (s *Service) SubmitAttestation(_ context.Context, input *AttestInput) (*SubmitResult, error) {
	if s.batchProcessor == nil {
		return nil, ErrAsyncDisabled
	}
	if strings.TrimSpace(input.EventDescription) == "" {
		return nil, attestation.NewError(attestation.KindInvalidInput, attestation.StageIntake, "event description is empty")
	}

	result := &SubmitResult{
		RequestID:         uuid.NewString(),
		ShipmentID:        strings.TrimSpace(input.ShipmentID),
		Status:            string(store.StatusReceived),
		ReceivedTimestamp: time.Now().UTC(),
	}
	s.batchProcessor.Submit(&batchEntry{
		requestID:   result.RequestID,
		shipmentID:  result.ShipmentID,
		description: input.EventDescription,
		receivedAt:  result.ReceivedTimestamp,
	})
	return result, nil
}

// GetStatus reads the processing status of a queued request.
func (s *Service) GetStatus(ctx context.Context, requestID string) (*store.AttestationStatus, error) {
	if s.deps.Store == nil {
		return nil, ErrAsyncDisabled
	}
	return s.deps.Store.GetStatus(ctx, requestID)
}

// GetShipment reads a shipment from the ledger and checks its signature.
func (s *Service) GetShipment(ctx context.Context, shipmentID string) (*ShipmentView, error) {
	rec, err := s.deps.Ledger.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return &ShipmentView{
		ShipmentRecord: rec,
		SignatureHex:   hex.EncodeToString(rec.Signature),
		Verified:       signer.Verify(canonical.Encode(rec.ShipmentID, rec.Summary, rec.ConfidenceScore), rec.Signature, s.deps.Signer.PublicKey()),
	}, nil
}

// Info describes the oracle. A registry lookup failure is logged and leaves
// RegistryID empty.
func (s *Service) Info(ctx context.Context) *Info {
	info := &Info{
		Status:        "ok",
		LedgerType:    s.deps.LedgerCfg.BlockchainType,
		ContractName:  contractName(s.deps.Ledger),
		Model:         s.deps.Coordinator.Generator().Model(),
		MockMode:      s.deps.Oracle.Generator.LLMType == "mock",
		DegradedMode:  s.deps.Oracle.Coordinator.DegradedMode,
		PublicKey:     s.deps.Signer.PublicKeyHex(),
		SignerAddress: s.deps.Signer.Address(),
		AsyncEnabled:  s.AsyncEnabled(),
	}
	reg, err := s.deps.Ledger.GetRegistry(ctx)
	if err != nil {
		s.logger.Warn("Registry lookup failed", zap.Error(err))
	} else {
		info.RegistryID = reg.ID
	}
	return info
}

// LLMTest probes the generator backend and generates a report for SampleEvent.
func (s *Service) LLMTest(ctx context.Context) *LLMTestResult {
	gen := s.deps.Coordinator.Generator()
	res := &LLMTestResult{Model: gen.Model()}
	if checker, ok := gen.(report.Checker); ok {
		st := checker.Check(ctx)
		res.Probe = &st
	}
	rep, err := gen.Generate(ctx, SampleEvent)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Report = rep
	return res
}

// contractName names the registry contract the ledger client talks to.
func contractName(l blockchain.LedgerClient) string {
	if cm, ok := l.Config().(*chainmaker.ChainMakerConfig); ok {
		return cm.ContractName
	}
	return "shipment_registry (in-process)"
}

// Close gracefully shuts down the service
func (s *Service) Close() {
	if s.batchProcessor != nil {
		s.batchProcessor.Close()
	}
}
