package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus is the host report returned by checkSystem. Probes that fail
// leave their fields empty and are listed in Warnings.
type SystemStatus struct {
	Time          time.Time `json:"time"`
	Status        string    `json:"status"`
	Hostname      string    `json:"hostname,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	UptimeSeconds uint64    `json:"uptimeSeconds,omitempty"`
	CPUs          int       `json:"cpus,omitempty"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryTotal   uint64    `json:"memoryTotal,omitempty"`
	MemoryPercent float64   `json:"memoryPercent"`
	Warnings      []string  `json:"warnings,omitempty"`
}

// CheckSystem reports the current time and host health.
func (s *Service) CheckSystem(ctx context.Context, _ empty) (SystemStatus, error) {
	st := SystemStatus{Time: s.now(), Status: "ok"}

	if info, err := host.InfoWithContext(ctx); err != nil {
		st.Warnings = append(st.Warnings, fmt.Sprintf("host: %v", err))
	} else {
		st.Hostname = info.Hostname
		st.Platform = info.Platform
		st.UptimeSeconds = info.Uptime
	}

	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		st.Warnings = append(st.Warnings, fmt.Sprintf("cpu count: %v", err))
	} else {
		st.CPUs = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		st.Warnings = append(st.Warnings, fmt.Sprintf("cpu: %v", err))
	} else if len(pct) > 0 {
		st.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		st.Warnings = append(st.Warnings, fmt.Sprintf("memory: %v", err))
	} else {
		st.MemoryTotal = vm.Total
		st.MemoryPercent = vm.UsedPercent
	}

	if len(st.Warnings) > 0 {
		st.Status = "degraded"
		s.log.WithContext(ctx).WithField("warnings", st.Warnings).Warn("System check incomplete")
	}
	return st, nil
}

// ProcessParams is the input of processData.
type ProcessParams struct {
	Input string `json:"input"`
}

// ProcessResult echoes the input through the JSON, time, cache and async
// helpers.
type ProcessResult struct {
	JSON       string         `json:"json"`
	Parsed     map[string]any `json:"parsed"`
	Time       time.Time      `json:"time"`
	Timestamp  int64          `json:"timestamp"`
	Date       string         `json:"date"`
	Cached     string         `json:"cached"`
	TaskQueued bool           `json:"taskQueued"`
}

const processCacheKey = "catalog:process"

// ProcessData demonstrates the shared helpers available to methods.
func (s *Service) ProcessData(ctx context.Context, in ProcessParams) (ProcessResult, error) {
	raw, err := json.Marshal(map[string]string{"input": in.Input})
	if err != nil {
		return ProcessResult{}, fmt.Errorf("marshal input: %w", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ProcessResult{}, fmt.Errorf("unmarshal input: %w", err)
	}

	now := s.now()
	res := ProcessResult{
		JSON:      string(raw),
		Parsed:    parsed,
		Time:      now,
		Timestamp: now.UnixMilli(),
		Date:      now.Format(time.DateOnly),
	}

	if err := s.cache.Set(ctx, processCacheKey, in.Input, time.Hour); err != nil {
		return ProcessResult{}, err
	}
	if _, err := s.cache.Get(ctx, processCacheKey, &res.Cached); err != nil {
		return ProcessResult{}, err
	}

	input := in.Input
	err = s.runner.Go("catalog.processData", func(context.Context) error {
		s.log.WithFields(map[string]interface{}{"input_bytes": len(input)}).Info("Async task executed")
		return nil
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Async task not queued")
	}
	res.TaskQueued = err == nil
	return res, nil
}
