// Package server polls the blockchain API and turns chain growth into
// block_mined events on the blockchain channel.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// BlockPoller periodically reads chain statistics from the upstream
// blockchain service. Polling errors are logged and skipped; the loop never
// takes the server down.
type BlockPoller struct {
	url        string
	interval   time.Duration
	dispatcher *Dispatcher
	client     *http.Client
	lastCount  int64
}

// NewBlockPoller creates a poller for the configured blockchain API. An
// empty URL yields a poller whose Run is a no-op.
func NewBlockPoller(cfg BlockchainConfig, dispatcher *Dispatcher) *BlockPoller {
	return &BlockPoller{
		url:        cfg.URL,
		interval:   cfg.PollInterval,
		dispatcher: dispatcher,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastCount:  -1,
	}
}

// Run polls until the context is cancelled.
func (p *BlockPoller) Run(ctx context.Context) {
	if p.url == "" || p.interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Str("url", p.url).Dur("interval", p.interval).Msg("blockchain poller started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

type chainStatsResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ChainLength         int64 `json:"chain_length"`
		PendingTransactions int64 `json:"pending_transactions"`
	} `json:"data"`
}

func (p *BlockPoller) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/api/blockchain/stats", nil)
	if err != nil {
		log.Warn().Err(err).Msg("blockchain poll request failed")
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("blockchain poll failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("blockchain poll returned non-OK status")
		return
	}

	var stats chainStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		log.Warn().Err(err).Msg("failed to decode blockchain stats")
		return
	}
	if !stats.Success {
		log.Warn().Msg("blockchain stats reported failure")
		return
	}

	count := stats.Data.ChainLength
	previous := p.lastCount
	p.lastCount = count

	// First poll only establishes the baseline.
	if previous < 0 || count == previous {
		return
	}
	if count < previous {
		log.Warn().Int64("previous", previous).Int64("count", count).Msg("chain length decreased; rebaselining")
		return
	}

	p.dispatcher.PublishBlock(map[string]any{
		"count":               count,
		"pendingTransactions": stats.Data.PendingTransactions,
	})
	log.Info().Int64("count", count).Msg("block mined notification published")
}
