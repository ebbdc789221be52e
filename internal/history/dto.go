package history

import (
	"encoding/json"
	"time"

	"github.com/mssola/useragent"

	"portalquejas/internal/platform/kafka/consumer"
	audit "portalquejas/pkg/platform/audit"
)

// RecordResponse is one history row as returned by the API.
type RecordResponse struct {
	ID             int64           `json:"id"`
	Action         string          `json:"tipo_accion"`
	Entity         string          `json:"entidad_afectada"`
	RecordID       int64           `json:"registro_id"`
	PreviousState  json.RawMessage `json:"datos_anteriores"`
	NewState       json.RawMessage `json:"datos_nuevos"`
	Actor          string          `json:"usuario"`
	IPAddress      string          `json:"ip_address,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	Client         *ClientSummary  `json:"cliente,omitempty"`
	KafkaTopic     string          `json:"kafka_topic"`
	KafkaPartition int32           `json:"kafka_partition"`
	KafkaOffset    int64           `json:"kafka_offset"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ClientSummary is the parsed user agent of the caller that caused the row.
type ClientSummary struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

type ListResponse struct {
	Data       []RecordResponse `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

type StatsResponse struct {
	TotalRecords int64            `json:"totalRecords"`
	ByAction     map[string]int64 `json:"byAction"`
	ByEntity     map[string]int64 `json:"byEntity"`
	MostRecent   []RecordResponse `json:"mostRecent"`
}

type ConsumerResponse struct {
	State string `json:"state"`
	consumer.Stats
}

func toRecordResponse(r audit.HistoryRecord) RecordResponse {
	return RecordResponse{
		ID:             r.ID,
		Action:         string(r.Event.Action),
		Entity:         string(r.Event.Entity),
		RecordID:       r.Event.RecordID,
		PreviousState:  documentOrNull(r.Event.PreviousState),
		NewState:       documentOrNull(r.Event.NewState),
		Actor:          r.Event.Actor,
		IPAddress:      r.Event.OriginAddress,
		UserAgent:      r.Event.ClientAgent,
		Client:         summarizeClient(r.Event.ClientAgent),
		KafkaTopic:     r.SourceTopic,
		KafkaPartition: r.SourcePartition,
		KafkaOffset:    r.SourceOffset,
		OccurredAt:     r.Event.OccurredAt,
		CreatedAt:      r.RecordedAt,
	}
}

func toRecordResponses(records []audit.HistoryRecord) []RecordResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordResponse(r))
	}
	return out
}

func toListResponse(res Result) ListResponse {
	return ListResponse{
		Data: toRecordResponses(res.Records),
		Pagination: Pagination{
			Total:   res.Total,
			Limit:   res.Limit,
			Offset:  res.Offset,
			HasMore: res.HasMore(),
		},
	}
}

func toStatsResponse(s audit.Summary) StatsResponse {
	resp := StatsResponse{
		TotalRecords: s.TotalRecords,
		ByAction:     make(map[string]int64, len(s.ByAction)),
		ByEntity:     make(map[string]int64, len(s.ByEntity)),
		MostRecent:   toRecordResponses(s.MostRecent),
	}
	for k, v := range s.ByAction {
		resp.ByAction[string(k)] = v
	}
	for k, v := range s.ByEntity {
		resp.ByEntity[string(k)] = v
	}
	return resp
}

func summarizeClient(raw string) *ClientSummary {
	if raw == "" {
		return nil
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return &ClientSummary{
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OS(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}

// documentOrNull renders an absent snapshot as JSON null.
func documentOrNull(d audit.Document) json.RawMessage {
	if audit.IsEmptyDocument(d) {
		return nil
	}
	return json.RawMessage(d)
}
