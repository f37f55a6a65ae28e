package chainmaker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"shiporacle/blockchain/types"
	"shiporacle/config"

	"chainmaker.org/chainmaker/pb-go/v2/common"
	sdk "chainmaker.org/chainmaker/sdk-go/v2"
	"go.uber.org/zap"
)

// contractCaller is the subset of the SDK client used here.
type contractCaller interface {
	InvokeContract(contractName, method, txId string, kvs []*common.KeyValuePair, timeout int64, withSyncResult bool) (*common.TxResponse, error)
	QueryContract(contractName, method string, kvs []*common.KeyValuePair, timeout int64) (*common.TxResponse, error)
	Stop() error
}

// Client is the wrapper around the ChainMaker SDK client
type Client struct {
	sdkClient contractCaller
	cfg       *config.BlockchainConfig
	cmCfg     *ChainMakerConfig
	logger    *zap.Logger

	sinksMu sync.RWMutex
	sinks   []types.EventSink
}

// contractResult is the JSON the shipment contract returns from its methods.
type contractResult struct {
	Status          types.ProcessingStatus `json:"status"`
	ShipmentID      string                 `json:"shipment_id"`
	Timestamp       int64                  `json:"timestamp"`
	SignerAddress   string                 `json:"signer_address"`
	ConfidenceScore *int                   `json:"confidence_score,omitempty"`
}

// NewChainMakerClient initializes the ChainMaker SDK client with the combined configuration
func NewChainMakerClient(cfg *config.BlockchainConfig, logger *zap.Logger) (*Client, error) {
	logger = logger.Named("chainmaker")
	logger.Info("Initializing ChainMaker SDK client")

	chainmakerCfg, ok := cfg.ChainSpecific.(*ChainMakerConfig)
	if !ok {
		return nil, fmt.Errorf("invalid ChainMaker configuration type")
	}
	if err := chainmakerCfg.Validate(); err != nil {
		return nil, err
	}

	clientOptions := []sdk.ChainClientOption{
		sdk.WithChainClientOrgId(chainmakerCfg.OrgID),
		sdk.WithChainClientChainId(chainmakerCfg.ChainID),
		sdk.WithUserKeyFilePath(chainmakerCfg.UserKeyPath),
		sdk.WithUserCrtFilePath(chainmakerCfg.UserCertPath),
		sdk.WithUserSignKeyFilePath(chainmakerCfg.UserSignKeyPath),
		sdk.WithUserSignCrtFilePath(chainmakerCfg.UserSignCertPath),
	}
	for _, nodeCfg := range chainmakerCfg.Nodes {
		sdkNodeConfig := sdk.NewNodeConfig(
			sdk.WithNodeAddr(nodeCfg.Address),
			sdk.WithNodeConnCnt(nodeCfg.ConnCount),
			sdk.WithNodeUseTLS(nodeCfg.UseTLS),
			sdk.WithNodeCAPaths(nodeCfg.CaPaths),
			sdk.WithNodeTLSHostName(nodeCfg.TLSHostName),
		)
		clientOptions = append(clientOptions, sdk.AddChainClientNodeConfig(sdkNodeConfig))
	}

	if cfg.RetryLimit > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryLimit(cfg.RetryLimit))
	}
	if cfg.RetryInterval > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryInterval(cfg.RetryInterval))
	}

	client, err := sdk.NewChainClient(clientOptions...)
	if err != nil {
		logger.Error("Failed to build ChainMaker SDK client", zap.Error(err))
		return nil, err
	}

	if err := client.EnableCertHash(); err != nil {
		logger.Warn("Failed to enable cert hash", zap.Error(err))
	}

	logger.Info("ChainMaker SDK client initialized",
		zap.String("chain_id", chainmakerCfg.ChainID),
		zap.String("contract", chainmakerCfg.ContractName))

	return newClient(client, cfg, chainmakerCfg, logger), nil
}

func newClient(caller contractCaller, cfg *config.BlockchainConfig, cmCfg *ChainMakerConfig, logger *zap.Logger) *Client {
	return &Client{sdkClient: caller, cfg: cfg, cmCfg: cmCfg, logger: logger}
}

// Config returns the ChainMaker configuration of the client.
func (c *Client) Config() any {
	return c.cmCfg
}

// Close stops the SDK client
func (c *Client) Close() error {
	c.logger.Info("Closing ChainMaker SDK client")
	if err := c.sdkClient.Stop(); err != nil {
		c.logger.Error("Error stopping ChainMaker SDK client", zap.Error(err))
		return fmt.Errorf("failed to stop ChainMaker SDK client: %w", err)
	}
	return nil
}

// Subscribe forwards events parsed from this client's transactions to sink.
func (c *Client) Subscribe(sink types.EventSink) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// RecordOrUpdate invokes the contract's record-or-update method.
func (c *Client) RecordOrUpdate(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error) {
	return c.invoke(ctx, c.cmCfg.RecordOrUpdateMethodName, rec)
}

// Update invokes the contract's update method.
func (c *Client) Update(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error) {
	return c.invoke(ctx, c.cmCfg.UpdateMethodName, rec)
}

func (c *Client) invoke(ctx context.Context, method string, rec types.SignedRecord) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kvs := []*common.KeyValuePair{
		{Key: c.cmCfg.ParamKeyShipmentID, Value: []byte(rec.ShipmentID)},
		{Key: c.cmCfg.ParamKeySummary, Value: []byte(rec.Summary)},
		{Key: c.cmCfg.ParamKeyConfidenceScore, Value: []byte(strconv.Itoa(rec.ConfidenceScore))},
		{Key: c.cmCfg.ParamKeySignature, Value: []byte(hex.EncodeToString(rec.Signature))},
	}

	resp, err := c.sdkClient.InvokeContract(c.cmCfg.ContractName, method, "", kvs, int64(c.cfg.TimeoutSeconds), true)
	if err != nil {
		return nil, fmt.Errorf("%w: SDK invoke failed: %w", types.ErrTransient, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var result contractResult
	if len(resp.ContractResult.Result) > 0 {
		if err := json.Unmarshal(resp.ContractResult.Result, &result); err != nil {
			c.logger.Error("Failed to decode contract result",
				zap.String("tx_id", resp.TxId), zap.ByteString("raw", resp.ContractResult.Result))
			return nil, fmt.Errorf("%w: malformed contract result in tx %s: %w", types.ErrRejected, resp.TxId, err)
		}
	}

	events, err := c.parseEvents(resp.ContractResult.ContractEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrRejected, err)
	}

	receipt := &types.Receipt{
		TransactionID: resp.TxId,
		BlockHeight:   resp.TxBlockHeight,
		ShipmentID:    rec.ShipmentID,
		Status:        result.Status,
		Timestamp:     result.Timestamp,
		SignerAddress: result.SignerAddress,
		Events:        events,
	}
	if receipt.Timestamp == 0 && len(events) > 0 {
		receipt.Timestamp = events[len(events)-1].Timestamp
	}

	c.publish(ctx, events)
	return receipt, nil
}

// GetShipment queries the contract for the current record.
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (*types.ShipmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kvs := []*common.KeyValuePair{{Key: c.cmCfg.ParamKeyShipmentID, Value: []byte(shipmentID)}}
	resp, err := c.sdkClient.QueryContract(c.cmCfg.ContractName, c.cmCfg.GetShipmentMethodName, kvs, int64(c.cfg.TimeoutSeconds))
	if err != nil {
		return nil, fmt.Errorf("%w: SDK query failed: %w", types.ErrTransient, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	if len(resp.ContractResult.Result) == 0 {
		return nil, types.ErrNotFound
	}

	var rec struct {
		types.ShipmentRecord
		SignatureHex string `json:"signature"`
	}
	if err := json.Unmarshal(resp.ContractResult.Result, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode shipment record: %w", err)
	}
	sig, err := hex.DecodeString(rec.SignatureHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored signature: %w", err)
	}
	out := rec.ShipmentRecord
	out.Signature = sig
	return &out, nil
}

// GetRegistry queries the contract for its registry anchor.
func (c *Client) GetRegistry(ctx context.Context) (*types.Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.sdkClient.QueryContract(c.cmCfg.ContractName, c.cmCfg.GetRegistryMethodName, nil, int64(c.cfg.TimeoutSeconds))
	if err != nil {
		return nil, fmt.Errorf("%w: SDK query failed: %w", types.ErrTransient, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	if len(resp.ContractResult.Result) == 0 {
		return nil, types.ErrNotFound
	}
	var reg types.Registry
	if err := json.Unmarshal(resp.ContractResult.Result, &reg); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	return &reg, nil
}

// checkResponse classifies a non-successful transaction. Timeouts and node
// side internal errors may clear on retry; every other code is the chain
// refusing the transaction.
func checkResponse(resp *common.TxResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", types.ErrTransient)
	}
	switch resp.Code {
	case common.TxStatusCode_SUCCESS:
	case common.TxStatusCode_TIMEOUT, common.TxStatusCode_INTERNAL_ERROR:
		return fmt.Errorf("%w: %s (code: %d)", types.ErrTransient, resp.Message, resp.Code)
	default:
		msg := resp.Message
		if resp.ContractResult != nil && resp.ContractResult.Message != "" {
			msg = resp.ContractResult.Message
		}
		return fmt.Errorf("%w: contract execution failed: %s (code: %d)", types.ErrRejected, msg, resp.Code)
	}
	if resp.ContractResult == nil {
		return fmt.Errorf("%w: contract execution returned nil result (tx: %s)", types.ErrRejected, resp.TxId)
	}
	return nil
}

// parseEvents decodes the contract's notifications:
//
//	Created: [shipment_id, timestamp]
//	Updated: [shipment_id, confidence_score, timestamp, signer_address]
func (c *Client) parseEvents(raw []*common.ContractEvent) ([]types.Event, error) {
	var events []types.Event
	for _, ev := range raw {
		switch ev.Topic {
		case c.cmCfg.CreatedEventTopic:
			if len(ev.EventData) != 2 {
				return nil, fmt.Errorf("malformed %s event: expected 2 fields, got %d", ev.Topic, len(ev.EventData))
			}
			ts, err := strconv.ParseInt(ev.EventData[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed %s event timestamp: %w", ev.Topic, err)
			}
			events = append(events, types.Event{
				Kind:          types.EventCreated,
				ShipmentID:    ev.EventData[0],
				Timestamp:     ts,
				TransactionID: ev.TxId,
			})
		case c.cmCfg.UpdatedEventTopic:
			if len(ev.EventData) != 4 {
				return nil, fmt.Errorf("malformed %s event: expected 4 fields, got %d", ev.Topic, len(ev.EventData))
			}
			score, err := strconv.Atoi(ev.EventData[1])
			if err != nil {
				return nil, fmt.Errorf("malformed %s event score: %w", ev.Topic, err)
			}
			ts, err := strconv.ParseInt(ev.EventData[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed %s event timestamp: %w", ev.Topic, err)
			}
			events = append(events, types.Event{
				Kind:            types.EventUpdated,
				ShipmentID:      ev.EventData[0],
				ConfidenceScore: &score,
				Timestamp:       ts,
				SignerAddress:   ev.EventData[3],
				TransactionID:   ev.TxId,
			})
		}
	}
	return events, nil
}

func (c *Client) publish(ctx context.Context, events []types.Event) {
	c.sinksMu.RLock()
	sinks := c.sinks
	c.sinksMu.RUnlock()
	for _, ev := range events {
		for _, sink := range sinks {
			if err := sink.PublishEvent(ctx, ev); err != nil {
				c.logger.Warn("Event sink failed", zap.String("shipment_id", ev.ShipmentID), zap.Error(err))
			}
		}
	}
}
