package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemStatus handles GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := s.getSystemStats()

	var diskFreeGB, diskUsedPercent float64
	if usage, err := disk.Usage(s.cfg.DataDir); err == nil {
		diskFreeGB = float64(usage.Free) / 1e9
		diskUsedPercent = usage.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get disk usage")
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramPercent,
		"disk": map[string]any{
			"free_gb":      diskFreeGB,
			"used_percent": diskUsedPercent,
		},
		"cache":             s.orchestrator.Store().GetStats(),
		"fetches_in_flight": s.orchestrator.InFlight(),
	})
}

// handleDatabaseStats handles GET /api/system/database/stats
func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{}

	creditsStats, err := s.creditsDB.GetStats()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get credits db stats")
	} else {
		stats["credits"] = creditsStats
	}

	researchStats, err := s.researchDB.GetStats()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get research db stats")
	} else {
		stats["research"] = researchStats
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short interval (100ms) so the API call does not block noticeably
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
