package httpapi

import (
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/internal/core"
)

type stageResponse struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	MinRow          int       `json:"minRow"`
	MaxRow          int       `json:"maxRow"`
	MinColumn       int       `json:"minColumn"`
	MaxColumn       int       `json:"maxColumn"`
	CreatedDate     time.Time `json:"createdDate"`
	LastUpdatedDate time.Time `json:"lastUpdatedDate"`
}

type regionResponse struct {
	ID              int64     `json:"id"`
	StageID         int64     `json:"stageId"`
	Row             int       `json:"row"`
	Column          int       `json:"column"`
	Data            string    `json:"data"`
	CreatedDate     time.Time `json:"createdDate"`
	LastUpdatedDate time.Time `json:"lastUpdatedDate"`
}

type createStageRequest struct {
	Name string `json:"name"`
}

type putRegionRequest struct {
	Data string `json:"data"`
}

type violationResponse struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Entity   string `json:"entity"`
	EntityID int64  `json:"entityId"`
}

func stageFromEntity(s core.Stage) stageResponse {
	return stageResponse{
		ID:              s.ID,
		Name:            s.Name,
		MinRow:          s.MinRow,
		MaxRow:          s.MaxRow,
		MinColumn:       s.MinColumn,
		MaxColumn:       s.MaxColumn,
		CreatedDate:     s.CreatedAt,
		LastUpdatedDate: s.UpdatedAt,
	}
}

func stagesFromEntities(stages []core.Stage) []stageResponse {
	out := make([]stageResponse, 0, len(stages))
	for _, s := range stages {
		out = append(out, stageFromEntity(s))
	}
	return out
}

func regionFromEntity(r core.Region) regionResponse {
	return regionResponse{
		ID:              r.ID,
		StageID:         r.StageID,
		Row:             r.Row,
		Column:          r.Column,
		Data:            r.Data,
		CreatedDate:     r.CreatedAt,
		LastUpdatedDate: r.UpdatedAt,
	}
}

func regionsFromEntities(regions []core.Region) []regionResponse {
	out := make([]regionResponse, 0, len(regions))
	for _, r := range regions {
		out = append(out, regionFromEntity(r))
	}
	return out
}

func regionInputFromRequest(stageID int64, row, column int, req putRegionRequest) core.RegionInput {
	return core.RegionInput{StageID: stageID, Row: row, Column: column, Data: req.Data}
}

func violationsFromResult(res core.Result) []violationResponse {
	out := make([]violationResponse, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, violationResponse{
			Rule:     v.Rule,
			Severity: string(v.Severity),
			Message:  v.Message,
			Entity:   string(v.Entity),
			EntityID: v.EntityID,
		})
	}
	return out
}
