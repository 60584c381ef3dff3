package server

import (
	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/repository"
)

// resolutionResponse is the JSON shape of one resolution outcome.
type resolutionResponse struct {
	Index     int            `json:"index"`
	Found     bool           `json:"found"`
	Partial   bool           `json:"partial,omitempty"`
	Tier      string         `json:"tier"`
	Provider  string         `json:"provider,omitempty"`
	CostUSD   float64        `json:"cost_usd"`
	LatencyMS int64          `json:"latency_ms"`
	Record    *domain.Record `json:"record,omitempty"`
}

// resolveDocumentResponse wraps a whole document's results.
type resolveDocumentResponse struct {
	DocumentID   string               `json:"document_id"`
	Citations    int                  `json:"citations"`
	Resolved     int                  `json:"resolved"`
	TotalCostUSD float64              `json:"total_cost_usd"`
	Results      []resolutionResponse `json:"results"`
}

// statsResponse is the JSON shape of library statistics.
type statsResponse struct {
	SharedRecords int64              `json:"shared_records"`
	TotalLookups  int64              `json:"total_lookups"`
	UserEntries   int64              `json:"user_entries"`
	TopKeys       []keyCountResponse `json:"top_keys,omitempty"`
}

// keyCountResponse is one entry in the most-looked-up ranking.
type keyCountResponse struct {
	LookupKey string `json:"lookup_key"`
	Count     int64  `json:"count"`
}

// resultToResponse converts a resolution result to its response shape.
func resultToResponse(res *domain.ResolutionResult) resolutionResponse {
	return resolutionResponse{
		Index:     res.Index,
		Found:     res.Found,
		Partial:   res.Partial,
		Tier:      string(res.Tier),
		Provider:  res.Provider,
		CostUSD:   res.Cost,
		LatencyMS: res.Latency.Milliseconds(),
		Record:    res.Record,
	}
}

// statsToResponse converts library statistics to their response shape.
func statsToResponse(stats *repository.LibraryStats) statsResponse {
	resp := statsResponse{
		SharedRecords: stats.SharedRecords,
		TotalLookups:  stats.TotalLookups,
		UserEntries:   stats.UserEntries,
	}
	for _, k := range stats.TopKeys {
		resp.TopKeys = append(resp.TopKeys, keyCountResponse{
			LookupKey: k.LookupKey,
			Count:     k.Count,
		})
	}
	return resp
}
