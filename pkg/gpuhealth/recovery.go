package gpuhealth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"
)

// RecoveryAction is the vocabulary of remediations the recovery executor
// can apply to a GPU, carried over unchanged from the original's
// GPURecoveryAction enum.
type RecoveryAction string

const (
	ActionNone         RecoveryAction = "none"
	ActionClearCache   RecoveryAction = "clear_cache"
	ActionResetSession RecoveryAction = "reset_session"
	ActionThrottle     RecoveryAction = "throttle"
	ActionResetGPU     RecoveryAction = "reset_gpu"
	ActionRestartLLM   RecoveryAction = "restart_llm"
	ActionStopLLM      RecoveryAction = "stop_llm"
)

// RecommendAction maps a classified error (and, for thermal, the current
// temperature) to the action the recovery executor should take. The
// thermal branch below-shutdown-throttle / at-or-above-shutdown-stop split
// matches the original's get_recovery_recommendation exactly.
func RecommendAction(errType ErrorType, temperature float64) RecoveryAction {
	switch errType {
	case ErrorOOM:
		return ActionRestartLLM
	case ErrorHang:
		return ActionResetGPU
	case ErrorThermal:
		if temperature < TempShutdownC {
			return ActionThrottle
		}
		return ActionStopLLM
	case ErrorECC, ErrorNVLink:
		return ActionResetGPU
	case ErrorUnknown:
		return ActionRestartLLM
	default:
		return ActionNone
	}
}

// Recoverer executes GPU recovery actions against the local nvidia-smi/
// jetson_clocks tooling and the LLM inference server's HTTP API.
type Recoverer struct {
	llmBaseURL string
	httpClient *http.Client
}

func NewRecoverer(llmBaseURL string) *Recoverer {
	return &Recoverer{
		llmBaseURL: llmBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Throttle caps GPU power draw via nvidia-smi, falling back to
// jetson_clocks on boards where nvidia-smi's power-limit flag is
// unsupported.
func (r *Recoverer) Throttle(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := exec.CommandContext(cctx, "nvidia-smi", "--power-limit=80").Run(); err != nil {
		return exec.CommandContext(cctx, "jetson_clocks", "--fan").Run()
	}
	return nil
}

// ResetGPU performs a hardware GPU reset with a 30s timeout, then sleeps 5s
// to let the driver reinitialize before the caller probes it again.
func (r *Recoverer) ResetGPU(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := exec.CommandContext(cctx, "nvidia-smi", "--gpu-reset", "-i", "0").Run(); err != nil {
		return fmt.Errorf("gpu reset: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return nil
}

// ClearCache unloads every currently loaded model from the inference
// server: it lists loaded models via /api/tags, then asks each to unload
// with keep_alive: 0, sleeping briefly afterward to let memory settle.
func (r *Recoverer) ClearCache(ctx context.Context) error {
	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.llmBaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("list loaded models: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return fmt.Errorf("decode loaded models: %w", err)
	}

	for _, m := range tagsResp.Models {
		unloadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		body, _ := json.Marshal(map[string]any{"model": m.Name, "keep_alive": 0})
		req, err := http.NewRequestWithContext(unloadCtx, http.MethodPost, r.llmBaseURL+"/api/generate", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			if resp, err := r.httpClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
		cancel()
		time.Sleep(2 * time.Second)
	}
	return nil
}
