package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/ids"
	"github.com/alanyoungcy/simledger/internal/ledger"
	"github.com/alanyoungcy/simledger/internal/metrics"
	"github.com/alanyoungcy/simledger/internal/notify"
	"github.com/alanyoungcy/simledger/internal/pnl"
	"github.com/alanyoungcy/simledger/internal/targets"
)

// ExampleID is the id of the read-only demo position.
const ExampleID = "btc-example"

// PositionConfig holds the limits applied by PositionService.
type PositionConfig struct {
	Account      string
	MaxPositions int
	MaxLeverage  int
	MinMargin    float64
	LockTTL      time.Duration
}

// DefaultPositionConfig returns the stock limits.
func DefaultPositionConfig() PositionConfig {
	return PositionConfig{
		Account:      "default",
		MaxPositions: 20,
		MaxLeverage:  100,
		MinMargin:    5,
		LockTTL:      10 * time.Second,
	}
}

// PositionDeps are the collaborators of PositionService. Prices, Bus, Locks,
// Notifier and Metrics may be nil.
type PositionDeps struct {
	Stores   domain.Stores
	Ledger   *ledger.Ledger
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// PositionService is the lifecycle controller: it opens, adjusts, closes and
// cancels positions and moves the matching balance. Every mutation runs
// under a single-writer guard and the stores reject stale versions.
type PositionService struct {
	cfg       PositionConfig
	positions domain.PositionStore
	history   domain.HistoryStore
	stats     domain.StatsStore
	audit     domain.AuditStore
	ledger    *ledger.Ledger
	prices    domain.PriceCache
	bus       domain.SignalBus
	locks     domain.LockManager
	notifier  *notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewPositionService creates a PositionService.
func NewPositionService(cfg PositionConfig, deps PositionDeps) *PositionService {
	def := DefaultPositionConfig()
	if cfg.Account == "" {
		cfg.Account = def.Account
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = def.MaxPositions
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = def.MaxLeverage
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	return &PositionService{
		cfg:       cfg,
		positions: deps.Stores.Positions,
		history:   deps.Stores.History,
		stats:     deps.Stores.Stats,
		audit:     deps.Stores.Audit,
		ledger:    deps.Ledger,
		prices:    deps.Prices,
		bus:       deps.Bus,
		locks:     deps.Locks,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(slog.String("component", "position_service")),
		now:       time.Now,
	}
}

// Config returns the limits in effect.
func (s *PositionService) Config() PositionConfig { return s.cfg }

// OpenRequest describes a new position. Price is the limit or stop price for
// pending orders; a market order without one uses the cached mark price.
type OpenRequest struct {
	Ticker             string                    `json:"ticker"`
	TradeType          domain.TradeType          `json:"tradeType"`
	Mode               domain.PositionMode       `json:"positionMode"`
	OrderType          domain.OrderType          `json:"orderType"`
	Margin             float64                   `json:"margin"`
	Leverage           int                       `json:"leverage"`
	Price              float64                   `json:"price,omitempty"`
	Risk               string                    `json:"risk,omitempty"`
	TakeProfit         *float64                  `json:"takeProfit,omitempty"`
	StopLoss           *float64                  `json:"stopLoss,omitempty"`
	TakeProfitTargets  []domain.TakeProfitTarget `json:"takeProfitTargets,omitempty"`
	SellHalfOnDoubling bool                      `json:"sellHalfOnDoubling,omitempty"`
}

// Open validates req, debits the margin and inserts the position as active
// (market) or pending (limit, stop-limit).
func (s *PositionService) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	pos, err := s.buildPosition(ctx, req)
	if err != nil {
		return domain.Position{}, err
	}

	unlock, err := s.guard(ctx)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: list open: %w", err)
	}
	if len(open) >= s.cfg.MaxPositions {
		return domain.Position{}, fmt.Errorf("%w (%d)", domain.ErrPositionLimit, s.cfg.MaxPositions)
	}

	pool := pos.PositionMode.Pool()
	bal, err := s.ledger.Debit(ctx, pool, pos.Margin)
	if err != nil {
		s.notifier.Fire(notify.EventError, "Insufficient balance",
			fmt.Sprintf("%s %s needs %.2f", pos.Ticker, pos.TradeType, pos.Margin))
		return domain.Position{}, fmt.Errorf("position_service: open %s: %w", pos.Ticker, err)
	}

	saved, err := s.positions.Create(ctx, pos)
	if err != nil {
		if _, refundErr := s.ledger.Refund(ctx, pool, pos.Margin); refundErr != nil {
			s.logger.ErrorContext(ctx, "position_service: refund after failed create",
				slog.String("position_id", pos.ID),
				slog.String("error", refundErr.Error()),
			)
		}
		return domain.Position{}, fmt.Errorf("position_service: create position %s: %w", pos.ID, err)
	}

	s.publish(ctx, domain.EventOpened, &saved, nil, &bal)
	s.auditLog(ctx, "position_opened", map[string]any{
		"position_id": saved.ID,
		"ticker":      saved.Ticker,
		"trade_type":  string(saved.TradeType),
		"mode":        string(saved.PositionMode),
		"order_type":  string(saved.OrderType),
		"status":      string(saved.Status),
		"margin":      saved.Margin,
		"leverage":    saved.Leverage,
		"entry_price": saved.EntryPrice,
	})
	s.notifier.Fire(notify.EventPositionOpened, "Position opened",
		fmt.Sprintf("%s %s x%d margin %.2f @ %s", saved.Ticker, saved.TradeType, saved.Leverage, saved.Margin, fmtPrice(saved.EntryPrice)))
	s.metrics.PositionOpened(string(saved.PositionMode), string(saved.TradeType))
	s.metrics.SetAvailable(string(pool), bal.Available)
	s.observeOpen(ctx)

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", saved.ID),
		slog.String("ticker", saved.Ticker),
		slog.String("status", string(saved.Status)),
		slog.Float64("margin", saved.Margin),
		slog.Float64("entry_price", saved.EntryPrice),
	)
	return saved, nil
}

func (s *PositionService) buildPosition(ctx context.Context, req OpenRequest) (domain.Position, error) {
	ticker := normalizeTicker(req.Ticker)
	if ticker == "" {
		return domain.Position{}, fmt.Errorf("%w: ticker is required", domain.ErrInvalidOrder)
	}
	if !req.TradeType.Valid() {
		return domain.Position{}, fmt.Errorf("%w: trade type %q", domain.ErrInvalidOrder, req.TradeType)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeFutures
	}
	if !mode.Valid() {
		return domain.Position{}, fmt.Errorf("%w: position mode %q", domain.ErrInvalidOrder, req.Mode)
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderMarket
	}
	if !orderType.Valid() {
		return domain.Position{}, fmt.Errorf("%w: order type %q", domain.ErrInvalidOrder, req.OrderType)
	}
	if !(req.Margin > 0) || math.IsInf(req.Margin, 0) {
		return domain.Position{}, fmt.Errorf("%w: margin must be positive", domain.ErrInvalidMargin)
	}
	if req.Margin < s.cfg.MinMargin {
		return domain.Position{}, fmt.Errorf("%w: minimum margin is %.2f", domain.ErrInvalidMargin, s.cfg.MinMargin)
	}

	lev := req.Leverage
	if lev == 0 {
		lev = 1
	}
	if mode == domain.ModeSpot {
		if lev != 1 {
			return domain.Position{}, fmt.Errorf("%w: spot positions use leverage 1", domain.ErrInvalidLeverage)
		}
	} else if lev < 1 || lev > s.cfg.MaxLeverage {
		return domain.Position{}, fmt.Errorf("%w: %d not in [1, %d]", domain.ErrInvalidLeverage, lev, s.cfg.MaxLeverage)
	}

	mark, _ := s.cachedPrice(ctx, ticker)
	entry := req.Price
	if orderType == domain.OrderMarket && entry <= 0 {
		entry = mark
	}
	if !(entry > 0) || math.IsInf(entry, 0) {
		return domain.Position{}, fmt.Errorf("%w: no price for %s", domain.ErrInvalidOrder, ticker)
	}
	if orderType == domain.OrderMarket || mark <= 0 {
		mark = entry
	}

	if req.StopLoss != nil {
		if err := checkStopLoss(req.TradeType, entry, *req.StopLoss); err != nil {
			return domain.Position{}, err
		}
	}
	ladder := targets.Sanitize(req.TakeProfitTargets)
	if len(ladder) > targets.MaxTargets {
		return domain.Position{}, targets.ErrLadderFull
	}
	if len(ladder) > 0 {
		ladder = targets.Validate(ladder, entry, req.TradeType).Targets
	}

	now := s.now().UTC()
	return domain.Position{
		ID:                 ids.New(),
		TradeType:          req.TradeType,
		Ticker:             ticker,
		Leverage:           lev,
		Risk:               strings.TrimSpace(req.Risk),
		Margin:             req.Margin,
		EntryPrice:         entry,
		MarkPrice:          mark,
		PositionMode:       mode,
		Status:             orderType.InitialStatus(),
		OrderType:          orderType,
		OpenTimestamp:      now,
		TakeProfit:         positiveOrNil(req.TakeProfit),
		StopLoss:           req.StopLoss,
		TakeProfitTargets:  ladder,
		SellHalfOnDoubling: req.SellHalfOnDoubling && mode == domain.ModeSpot,
		UpdatedAt:          now,
	}, nil
}

// AdjustLeverage sets the leverage of one futures position, or of every
// adjustable futures position when applyToAll is true. The margin, and with
// it the balance, is unchanged.
func (s *PositionService) AdjustLeverage(ctx context.Context, id string, leverage int, applyToAll bool) ([]domain.Position, error) {
	if leverage < 1 || leverage > s.cfg.MaxLeverage {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", domain.ErrInvalidLeverage, leverage, s.cfg.MaxLeverage)
	}
	unlock, err := s.guard(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	target, err := s.mutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.PositionMode == domain.ModeSpot {
		return nil, fmt.Errorf("%w: spot leverage is fixed at 1", domain.ErrInvalidLeverage)
	}

	batch := []domain.Position{target}
	if applyToAll {
		open, err := s.positions.ListOpen(ctx)
		if err != nil {
			return nil, fmt.Errorf("position_service: list open: %w", err)
		}
		batch = batch[:0]
		for _, p := range open {
			if !p.ReadOnly && p.PositionMode == domain.ModeFutures && !p.IsClosed() {
				batch = append(batch, p)
			}
		}
	}

	var (
		out  []domain.Position
		errs []error
	)
	for _, p := range batch {
		if p.Leverage == leverage {
			out = append(out, p)
			continue
		}
		p.Leverage = leverage
		p.UpdatedAt = s.now().UTC()
		saved, err := s.positions.Update(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("position_service: set leverage %s: %w", p.ID, err))
			continue
		}
		out = append(out, saved)
		s.publish(ctx, domain.EventUpdated, &saved, nil, nil)
	}
	s.auditLog(ctx, "leverage_adjusted", map[string]any{
		"position_id":  id,
		"leverage":     leverage,
		"apply_to_all": applyToAll,
		"updated":      len(out),
	})
	return out, errors.Join(errs...)
}

// SetTakeProfitStopLoss replaces the take-profit ladder and stop loss. The
// ladder passes through the validator first; corrected reports whether it
// had to be adjusted. An empty ladder clears take profit and a nil stopLoss
// clears the stop. Balances are not touched.
func (s *PositionService) SetTakeProfitStopLoss(ctx context.Context, id string, ladder []domain.TakeProfitTarget, stopLoss *float64) (domain.Position, bool, error) {
	if stopLoss != nil && !(*stopLoss > 0) {
		return domain.Position{}, false, fmt.Errorf("%w: stop loss must be positive", domain.ErrInvalidOrder)
	}
	clean := targets.Sanitize(ladder)
	if len(clean) > targets.MaxTargets {
		return domain.Position{}, false, targets.ErrLadderFull
	}

	unlock, err := s.guard(ctx)
	if err != nil {
		return domain.Position{}, false, err
	}
	defer unlock()

	p, err := s.mutable(ctx, id)
	if err != nil {
		return domain.Position{}, false, err
	}

	if stopLoss != nil {
		if err := checkStopLoss(p.TradeType, p.EntryPrice, *stopLoss); err != nil {
			return domain.Position{}, false, err
		}
	}

	res := targets.Validate(clean, p.EntryPrice, p.TradeType)
	p.TakeProfitTargets = res.Targets
	p.TargetsHit = 0
	p.TakeProfit = nil
	if stopLoss != nil {
		v := *stopLoss
		p.StopLoss = &v
	} else {
		p.StopLoss = nil
	}
	p.UpdatedAt = s.now().UTC()

	saved, err := s.positions.Update(ctx, p)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("position_service: set tp/sl %s: %w", id, err)
	}
	s.publish(ctx, domain.EventUpdated, &saved, nil, nil)
	s.auditLog(ctx, "tpsl_updated", map[string]any{
		"position_id": id,
		"targets":     len(saved.TakeProfitTargets),
		"stop_loss":   saved.StopLoss,
		"corrected":   res.Corrected,
	})
	if res.Corrected {
		s.metrics.TargetsCorrected()
		s.notifier.Throttled(ctx, "targets:"+id, notify.EventTargetsCorrected, "Targets adjusted",
			fmt.Sprintf("%s take-profit targets were spaced at least %.0f%% apart", saved.Ticker, targets.MinGapPct))
	}
	return saved, res.Corrected, nil
}

// Get returns one position, closed ones included.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	p, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", id, err)
	}
	return p, nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Mode   domain.PositionMode
	Status domain.PositionStatus
	Ticker string
}

// List returns open and pending positions in opening order.
func (s *PositionService) List(ctx context.Context, f ListFilter) ([]domain.Position, error) {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open: %w", err)
	}
	ticker := normalizeTicker(f.Ticker)
	out := open[:0]
	for _, p := range open {
		if f.Mode != "" && p.PositionMode != f.Mode {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if ticker != "" && p.Ticker != ticker {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PositionView is a position with its figures at the current mark price.
type PositionView struct {
	domain.Position
	pnl.Result
}

// View evaluates p at its mark price.
func View(p domain.Position) PositionView {
	return PositionView{Position: p, Result: pnl.Evaluate(pnl.FromPosition(p), p.MarkPrice)}
}

// SeedExample inserts the read-only demo position unless it already exists.
// It never touches a balance.
func (s *PositionService) SeedExample(ctx context.Context) error {
	if _, err := s.positions.GetByID(ctx, ExampleID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("position_service: check example: %w", err)
	}
	tp, sl := 70000.0, 65000.0
	now := s.now().UTC()
	_, err := s.positions.Create(ctx, domain.Position{
		ID:            ExampleID,
		TradeType:     domain.TradeLong,
		Ticker:        "BTCUSDT",
		Leverage:      50,
		Risk:          "1.2%",
		Margin:        135.5,
		EntryPrice:    67500,
		MarkPrice:     68250.75,
		PositionMode:  domain.ModeFutures,
		Status:        domain.StatusActive,
		OrderType:     domain.OrderMarket,
		OpenTimestamp: now,
		TakeProfit:    &tp,
		StopLoss:      &sl,
		ReadOnly:      true,
		UpdatedAt:     now,
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("position_service: seed example: %w", err)
	}
	s.logger.InfoContext(ctx, "position_service: example position seeded")
	return nil
}

// mutable loads a position the caller may change.
func (s *PositionService) mutable(ctx context.Context, id string) (domain.Position, error) {
	p, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", id, err)
	}
	if p.ReadOnly {
		return domain.Position{}, domain.ErrReadOnlyPosition
	}
	if p.IsClosed() {
		return domain.Position{}, domain.ErrPositionClosed
	}
	return p, nil
}

// guard serializes writers in this process and, when a LockManager is
// configured, across processes sharing the account.
func (s *PositionService) guard(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.locks == nil {
		return s.mu.Unlock, nil
	}
	key := "ledger:" + s.cfg.Account
	deadline := time.NewTimer(s.cfg.LockTTL)
	defer deadline.Stop()
	retry := time.NewTicker(25 * time.Millisecond)
	defer retry.Stop()
	for {
		release, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return func() {
				release()
				s.mu.Unlock()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			s.mu.Unlock()
			return nil, fmt.Errorf("position_service: acquire %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			s.mu.Unlock()
			return nil, ctx.Err()
		case <-deadline.C:
			s.mu.Unlock()
			return nil, fmt.Errorf("position_service: acquire %s: %w", key, domain.ErrLockHeld)
		case <-retry.C:
		}
	}
}

func (s *PositionService) cachedPrice(ctx context.Context, ticker string) (float64, bool) {
	if s.prices == nil {
		return 0, false
	}
	price, _, err := s.prices.GetPrice(ctx, ticker)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func (s *PositionService) observeOpen(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return
	}
	counts := map[domain.PositionMode]int{domain.ModeSpot: 0, domain.ModeFutures: 0}
	for _, p := range open {
		counts[p.PositionMode]++
	}
	for mode, n := range counts {
		s.metrics.SetOpen(string(mode), n)
	}
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// checkStopLoss rejects a stop that is not positive or that sits on the
// profitable side of entry. A stop at entry is allowed.
func checkStopLoss(tt domain.TradeType, entry, stop float64) error {
	if !(stop > 0) || math.IsInf(stop, 0) {
		return fmt.Errorf("%w: stop loss must be positive", domain.ErrInvalidOrder)
	}
	if entry <= 0 {
		return nil
	}
	if (tt == domain.TradeShort && stop < entry) || (tt != domain.TradeShort && stop > entry) {
		return fmt.Errorf("%w: %s stop loss %s is beyond entry %s", domain.ErrInvalidOrder, tt, fmtPrice(stop), fmtPrice(entry))
	}
	return nil
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func positiveOrNil(v *float64) *float64 {
	if v == nil || !(*v > 0) {
		return nil
	}
	out := *v
	return &out
}

func fmtPrice(p float64) string {
	if p >= 1 {
		return fmt.Sprintf("%.2f", p)
	}
	return fmt.Sprintf("%.6f", p)
}
