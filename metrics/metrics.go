// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"math/big"

	"github.com/luxfi/metric"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	metric.APIInterceptor

	// Mark that a share mutation of the given kind was applied.
	MarkDeposit()
	MarkWithdraw()
	MarkTransfer()
	MarkEmergencyWithdraw()

	// Mark that a claim paid out the given amount of reward units.
	MarkClaim(amount *big.Int)
	// Mark that the given amount of reward units was forfeited, either by a
	// zero-supply interval or an emergency withdrawal.
	MarkRewardsForfeited(amount *big.Int)
	// Mark that a settlement found a recorded debt above the holder's
	// entitlement. This only happens when a caller breaks the
	// settle-before-mutate contract, so any increase needs investigation.
	MarkDebtRegression()

	// Mark that a block with the given number of transactions was accepted.
	MarkBlockAccepted(numTxs int)

	SetNumVaults(int)
	SetMempoolSize(int)
}

type metricsImpl struct {
	metric.APIInterceptor

	numDeposits           metric.Counter
	numWithdrawals        metric.Counter
	numTransfers          metric.Counter
	numEmergencyWithdraws metric.Counter
	numClaims             metric.Counter

	rewardsClaimed   metric.Counter
	rewardsForfeited metric.Counter
	debtRegressions  metric.Counter

	blocksAccepted metric.Counter
	txsAccepted    metric.Counter

	numVaults   metric.Gauge
	mempoolSize metric.Gauge
}

func New(registerer metric.Registerer) (Metrics, error) {
	m := &metricsImpl{
		numDeposits: metric.NewCounter(metric.CounterOpts{
			Name: "deposits",
			Help: "Number of share deposits applied",
		}),
		numWithdrawals: metric.NewCounter(metric.CounterOpts{
			Name: "withdrawals",
			Help: "Number of share withdrawals applied",
		}),
		numTransfers: metric.NewCounter(metric.CounterOpts{
			Name: "transfers",
			Help: "Number of share transfers applied",
		}),
		numEmergencyWithdraws: metric.NewCounter(metric.CounterOpts{
			Name: "emergency_withdrawals",
			Help: "Number of emergency withdrawals applied",
		}),
		numClaims: metric.NewCounter(metric.CounterOpts{
			Name: "claims",
			Help: "Number of reward claims paid",
		}),
		rewardsClaimed: metric.NewCounter(metric.CounterOpts{
			Name: "rewards_claimed",
			Help: "Cumulative amount of reward units paid to holders",
		}),
		rewardsForfeited: metric.NewCounter(metric.CounterOpts{
			Name: "rewards_forfeited",
			Help: "Cumulative amount of reward units forfeited",
		}),
		debtRegressions: metric.NewCounter(metric.CounterOpts{
			Name: "debt_regressions",
			Help: "Number of settlements that found a recorded debt above the holder entitlement",
		}),
		blocksAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "blocks_accepted",
			Help: "Number of blocks accepted",
		}),
		txsAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "txs_accepted",
			Help: "Number of transactions applied by accepted blocks",
		}),
		numVaults: metric.NewGauge(metric.GaugeOpts{
			Name: "vaults",
			Help: "Number of vaults",
		}),
		mempoolSize: metric.NewGauge(metric.GaugeOpts{
			Name: "mempool_size",
			Help: "Number of transactions waiting to be built into a block",
		}),
	}

	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errors.New("registerer must be a Registry")
	}
	apiRequestMetrics, err := metric.NewAPIInterceptor(registry)
	m.APIInterceptor = apiRequestMetrics

	return m, errors.Join(
		err,
		registerer.Register(metric.AsCollector(m.numDeposits)),
		registerer.Register(metric.AsCollector(m.numWithdrawals)),
		registerer.Register(metric.AsCollector(m.numTransfers)),
		registerer.Register(metric.AsCollector(m.numEmergencyWithdraws)),
		registerer.Register(metric.AsCollector(m.numClaims)),
		registerer.Register(metric.AsCollector(m.rewardsClaimed)),
		registerer.Register(metric.AsCollector(m.rewardsForfeited)),
		registerer.Register(metric.AsCollector(m.debtRegressions)),
		registerer.Register(metric.AsCollector(m.blocksAccepted)),
		registerer.Register(metric.AsCollector(m.txsAccepted)),
		registerer.Register(metric.AsCollector(m.numVaults)),
		registerer.Register(metric.AsCollector(m.mempoolSize)),
	)
}

func (m *metricsImpl) MarkDeposit() {
	m.numDeposits.Inc()
}

func (m *metricsImpl) MarkWithdraw() {
	m.numWithdrawals.Inc()
}

func (m *metricsImpl) MarkTransfer() {
	m.numTransfers.Inc()
}

func (m *metricsImpl) MarkEmergencyWithdraw() {
	m.numEmergencyWithdraws.Inc()
}

func (m *metricsImpl) MarkClaim(amount *big.Int) {
	m.numClaims.Inc()
	m.rewardsClaimed.Add(bigFloat(amount))
}

func (m *metricsImpl) MarkRewardsForfeited(amount *big.Int) {
	m.rewardsForfeited.Add(bigFloat(amount))
}

func (m *metricsImpl) MarkDebtRegression() {
	m.debtRegressions.Inc()
}

func (m *metricsImpl) MarkBlockAccepted(numTxs int) {
	m.blocksAccepted.Inc()
	m.txsAccepted.Add(float64(numTxs))
}

func (m *metricsImpl) SetNumVaults(n int) {
	m.numVaults.Set(float64(n))
}

func (m *metricsImpl) SetMempoolSize(n int) {
	m.mempoolSize.Set(float64(n))
}

// bigFloat converts a reward amount for counter arithmetic. Precision loss
// above 2^53 only affects the exported series, never ledger state.
func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
