package sqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// legacyExampleID is the id older clients gave the built-in demo record.
const legacyExampleID = "btc-example"

// flexFloat decodes a JSON number, a numeric string, "" or null.
type flexFloat struct {
	V   float64
	Set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	f.V, f.Set = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.Set || f.V <= 0 {
		return nil
	}
	v := f.V
	return &v
}

// flexID decodes an id stored as a string or a number.
type flexID string

func (i *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = flexID(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*i = flexID(string(b))
	return nil
}

type storedTarget struct {
	ID         flexID    `json:"id"`
	Price      flexFloat `json:"price"`
	Percentage flexFloat `json:"percentage"`
}

type storedPosition struct {
	ID                 string         `json:"id"`
	TradeType          string         `json:"tradeType"`
	Ticker             string         `json:"ticker"`
	Leverage           flexFloat      `json:"leverage"`
	Risk               string         `json:"risk"`
	Margin             flexFloat      `json:"margin"`
	EntryPrice         flexFloat      `json:"entryPrice"`
	MarkPrice          flexFloat      `json:"markPrice"`
	PositionMode       string         `json:"positionMode"`
	Status             string         `json:"status"`
	OrderType          string         `json:"orderType"`
	OpenTimestamp      string         `json:"openTimestamp"`
	TakeProfit         flexFloat      `json:"takeProfit"`
	StopLoss           flexFloat      `json:"stopLoss"`
	TakeProfitTargets  []storedTarget `json:"takeProfitTargets"`
	TargetsHit         int            `json:"targetsHit"`
	SellHalfOnDoubling bool           `json:"sellHalfOnDoubling"`
	HalfSold           bool           `json:"halfSold"`
	RealizedPnL        flexFloat      `json:"realizedPnl"`
	ReadOnly           bool           `json:"readOnly"`
	Version            int64          `json:"version"`
	UpdatedAt          string         `json:"updatedAt"`
}

func (s storedPosition) toDomain() (domain.Position, error) {
	p := domain.Position{
		ID:                 s.ID,
		Ticker:             strings.ToUpper(strings.TrimSpace(s.Ticker)),
		Leverage:           int(s.Leverage.V),
		Risk:               s.Risk,
		Margin:             s.Margin.V,
		EntryPrice:         s.EntryPrice.V,
		MarkPrice:          s.MarkPrice.V,
		PositionMode:       domain.PositionMode(s.PositionMode),
		Status:             domain.PositionStatus(s.Status),
		OrderType:          domain.OrderType(s.OrderType),
		OpenTimestamp:      parseTime(s.OpenTimestamp),
		TakeProfit:         s.TakeProfit.ptr(),
		StopLoss:           s.StopLoss.ptr(),
		TargetsHit:         s.TargetsHit,
		SellHalfOnDoubling: s.SellHalfOnDoubling,
		HalfSold:           s.HalfSold,
		RealizedPnL:        s.RealizedPnL.V,
		ReadOnly:           s.ReadOnly || s.ID == legacyExampleID,
		Version:            s.Version,
		UpdatedAt:          parseTime(s.UpdatedAt),
	}
	if p.ID == "" {
		return domain.Position{}, fmt.Errorf("%w: position without id", domain.ErrMalformedStoredData)
	}
	tt, ok := domain.ParseTradeType(s.TradeType)
	if !ok {
		return domain.Position{}, fmt.Errorf("%w: position %s: trade type %q", domain.ErrMalformedStoredData, s.ID, s.TradeType)
	}
	p.TradeType = tt
	if p.PositionMode == "" {
		p.PositionMode = domain.ModeFutures
	}
	if p.OrderType == "" {
		p.OrderType = domain.OrderMarket
	}
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	if p.Leverage < 1 {
		p.Leverage = 1
	}
	if p.Version < 1 {
		p.Version = 1
	}
	if !p.PositionMode.Valid() || !p.OrderType.Valid() {
		return domain.Position{}, fmt.Errorf("%w: position %s: mode %q order %q",
			domain.ErrMalformedStoredData, s.ID, s.PositionMode, s.OrderType)
	}
	if p.Status != domain.StatusClosed && p.Margin <= 0 {
		return domain.Position{}, fmt.Errorf("%w: position %s: margin %v", domain.ErrMalformedStoredData, s.ID, p.Margin)
	}
	for _, t := range s.TakeProfitTargets {
		p.TakeProfitTargets = append(p.TakeProfitTargets, domain.TakeProfitTarget{
			ID:         string(t.ID),
			Price:      t.Price.V,
			Percentage: t.Percentage.V,
		})
	}
	return p, nil
}

type storedClosed struct {
	storedPosition
	ID             string    `json:"id"`
	PositionID     string    `json:"positionId"`
	ClosePrice     flexFloat `json:"closePrice"`
	PnL            flexFloat `json:"pnl"`
	ROE            flexFloat `json:"roe"`
	Reason         string    `json:"reason"`
	CloseTimestamp string    `json:"closeTimestamp"`
}

func (s storedClosed) toDomain() (domain.ClosedSignal, error) {
	// Older entries reuse the position id as the entry id.
	s.storedPosition.ID = s.PositionID
	if s.storedPosition.ID == "" {
		s.storedPosition.ID = s.ID
	}
	s.storedPosition.Status = string(domain.StatusClosed)
	p, err := s.storedPosition.toDomain()
	if err != nil {
		return domain.ClosedSignal{}, err
	}
	c := domain.ClosedSignal{
		Position:       p,
		ID:             s.ID,
		PositionID:     p.ID,
		ClosePrice:     s.ClosePrice.V,
		PnL:            s.PnL.V,
		ROE:            s.ROE.V,
		Reason:         domain.CloseReason(s.Reason),
		CloseTimestamp: parseTime(s.CloseTimestamp),
	}
	if c.ID == "" {
		return domain.ClosedSignal{}, fmt.Errorf("%w: history entry without id", domain.ErrMalformedStoredData)
	}
	if c.Reason == "" {
		c.Reason = domain.CloseManual
	}
	return c, nil
}

// decodeList parses a JSON array item by item. Items that fail to decode
// are reported through bad and skipped. A blob that is not an array yields
// an empty list and a single error.
func decodeList[S any, T any](raw []byte, conv func(S) (T, error), bad func(error)) []T {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		bad(fmt.Errorf("%w: %v", domain.ErrMalformedStoredData, err))
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var s S
		if err := json.Unmarshal(item, &s); err != nil {
			bad(fmt.Errorf("%w: %v", domain.ErrMalformedStoredData, err))
			continue
		}
		v, err := conv(s)
		if err != nil {
			bad(err)
			continue
		}
		out = append(out, v)
	}
	return out
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// storedBalance is the current balance blob. Older clients stored a bare
// number, which decodes as a balance with nothing locked.
type storedBalance struct {
	Balance string `json:"balance"`
	Locked  string `json:"locked"`
}
