package verify

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/compose-network/deploykit/internal/logger"
)

const (
	codeFormatStandardJSON = "solidity-standard-json-input"

	statusOK = "1"

	resultPending         = "pending in queue"
	resultPass            = "pass - verified"
	resultAlreadyVerified = "already verified"
	resultNotVerified     = "not verified"
)

type (
	EtherscanGenericResp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  string `json:"result"`
	}

	// EtherscanClient talks to an Etherscan compatible API (v2, multichain).
	EtherscanClient struct {
		http    *resty.Client
		apiKey  string
		chainID uint64
		limiter *rate.Limiter
	}

	SubmitRequest struct {
		Address         common.Address
		ContractName    string
		CompilerVersion string
		SourceCode      string
		ConstructorArgs []byte
	}

	// Etherscan verifies through an EtherscanClient using the standard-json
	// compiler input carried by each artifact.
	Etherscan struct {
		client       *EtherscanClient
		artifacts    ArtifactSource
		pollInterval time.Duration
		logger       *slog.Logger
	}
)

func NewEtherscanClient(apiKey, url string, chainID uint64, limiter *rate.Limiter) *EtherscanClient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &EtherscanClient{
		http:    resty.New().SetBaseURL(url).SetTimeout(30 * time.Second),
		apiKey:  apiKey,
		chainID: chainID,
		limiter: limiter,
	}
}

func (c *EtherscanClient) do(ctx context.Context, method string, params map[string]string) (*EtherscanGenericResp, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out EtherscanGenericResp
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("chainid", strconv.FormatUint(c.chainID, 10)).
		SetResult(&out).
		ForceContentType("application/json")

	params["apikey"] = c.apiKey
	if method == resty.MethodPost {
		req.SetFormData(params)
	} else {
		req.SetQueryParams(params)
	}

	resp, err := req.Execute(method, "")
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("explorer returned HTTP %d", resp.StatusCode())
	}

	return &out, nil
}

// IsVerified reports whether the explorer already has source for address.
func (c *EtherscanClient) IsVerified(ctx context.Context, address common.Address) (bool, error) {
	resp, err := c.do(ctx, resty.MethodGet, map[string]string{
		"module":  "contract",
		"action":  "getabi",
		"address": address.Hex(),
	})
	if err != nil {
		return false, err
	}

	if resp.Status == statusOK {
		return true, nil
	}
	if strings.Contains(strings.ToLower(resp.Result), resultNotVerified) {
		return false, nil
	}

	return false, fmt.Errorf("getabi for %s: %s: %s", address, resp.Message, resp.Result)
}

// Submit sends the source and returns the explorer's job id. An empty id with
// no error means the explorer considers the contract verified already.
func (c *EtherscanClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	resp, err := c.do(ctx, resty.MethodPost, map[string]string{
		"module":          "contract",
		"action":          "verifysourcecode",
		"codeformat":      codeFormatStandardJSON,
		"contractaddress": req.Address.Hex(),
		"contractname":    req.ContractName,
		"compilerversion": req.CompilerVersion,
		"sourceCode":      req.SourceCode,
		// the misspelling is part of the API
		"constructorArguements": hex.EncodeToString(req.ConstructorArgs),
	})
	if err != nil {
		return "", err
	}

	if resp.Status == statusOK {
		return resp.Result, nil
	}
	if strings.Contains(strings.ToLower(resp.Result), resultAlreadyVerified) {
		return "", nil
	}

	return "", fmt.Errorf("%w: submit %s: %s", ErrVerification, req.Address, resp.Result)
}

// CheckStatus polls a submission. It returns StatusPending until the explorer
// reaches a verdict.
func (c *EtherscanClient) CheckStatus(ctx context.Context, guid string) (Status, error) {
	resp, err := c.do(ctx, resty.MethodGet, map[string]string{
		"module": "contract",
		"action": "checkverifystatus",
		"guid":   guid,
	})
	if err != nil {
		return StatusPending, err
	}

	result := strings.ToLower(resp.Result)
	switch {
	case strings.Contains(result, resultPending):
		return StatusPending, nil
	case strings.Contains(result, resultPass), strings.Contains(result, resultAlreadyVerified):
		return StatusVerified, nil
	default:
		return StatusFailed, fmt.Errorf("%w: %s", ErrVerification, resp.Result)
	}
}

func NewEtherscan(client *EtherscanClient, artifacts ArtifactSource, pollInterval time.Duration) *Etherscan {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Etherscan{
		client:       client,
		artifacts:    artifacts,
		pollInterval: pollInterval,
		logger:       logger.Named("etherscan"),
	}
}

func (e *Etherscan) Verify(ctx context.Context, req Request) error {
	log := e.logger.With("node", req.Node, "address", req.Address.Hex())

	verified, err := e.client.IsVerified(ctx, req.Address)
	if err != nil {
		return err
	}
	if verified {
		log.Info("contract already verified")
		return nil
	}

	art, err := e.artifacts.Load(req.Artifact)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if !art.Verifiable() {
		return fmt.Errorf("%w: %w: %s", ErrVerification, ErrNoSource, art.Name)
	}

	ctorArgs, err := art.ConstructorArgs(req.ConstructorArgs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}

	guid, err := e.client.Submit(ctx, SubmitRequest{
		Address:         req.Address,
		ContractName:    art.QualifiedName(),
		CompilerVersion: art.CompilerVersion,
		SourceCode:      string(art.StandardInput),
		ConstructorArgs: ctorArgs,
	})
	if err != nil {
		return err
	}
	if guid == "" {
		log.Info("contract already verified")
		return nil
	}

	log.With("guid", guid).Info("verification submitted")

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := e.client.CheckStatus(ctx, guid)
		switch {
		case status == StatusVerified:
			log.Info("contract verified")
			return nil
		case status == StatusFailed:
			return err
		case err != nil && !errors.Is(err, context.Canceled):
			log.With("err", err.Error()).Debug("status check failed, polling again")
		}
	}
}
