package market

import (
	"math"

	"resilient-trading-bot/internal/risk"
)

// defaultPeriod is the lookback used for ATR, ADX and RSI.
const defaultPeriod = 14

// volumeLookback is the number of candles averaged for the volume baseline.
const volumeLookback = 20

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
}

func trueRange(current Kline, prevClose float64) float64 {
	tr := current.High - current.Low
	if d := math.Abs(current.High - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(current.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ATR computes the Wilder-smoothed average true range. Returns 0 when
// there are not enough candles.
func ATR(klines []Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		trs = append(trs, trueRange(klines[i], klines[i-1].Close))
	}

	atr := mean(trs[:period])
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// RSI computes the Wilder relative strength index over closing prices.
// Returns the neutral 50 when there are not enough values.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ADX computes the Wilder average directional index as a trend-strength
// measure in [0, 100]. Returns 0 when there are not enough candles.
func ADX(klines []Kline, period int) float64 {
	if period <= 0 || len(klines) < 2*period+1 {
		return 0
	}

	n := len(klines) - 1
	trs := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < len(klines); i++ {
		up := klines[i].High - klines[i-1].High
		down := klines[i-1].Low - klines[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
		trs[i-1] = trueRange(klines[i], klines[i-1].Close)
	}

	var smoothTR, smoothPlus, smoothMinus float64
	for i := 0; i < period; i++ {
		smoothTR += trs[i]
		smoothPlus += plusDM[i]
		smoothMinus += minusDM[i]
	}

	var dxs []float64
	appendDX := func() {
		if smoothTR <= 0 {
			return
		}
		diPlus := 100 * smoothPlus / smoothTR
		diMinus := 100 * smoothMinus / smoothTR
		if sum := diPlus + diMinus; sum > 0 {
			dxs = append(dxs, 100*math.Abs(diPlus-diMinus)/sum)
		}
	}

	appendDX()
	for i := period; i < n; i++ {
		smoothTR = smoothTR - smoothTR/float64(period) + trs[i]
		smoothPlus = smoothPlus - smoothPlus/float64(period) + plusDM[i]
		smoothMinus = smoothMinus - smoothMinus/float64(period) + minusDM[i]
		appendDX()
	}

	if len(dxs) == 0 {
		return 0
	}
	head := period
	if len(dxs) < head {
		head = len(dxs)
	}
	adx := mean(dxs[:head])
	for _, dx := range dxs[head:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}
	return adx
}

// SnapshotFromKlines derives a market data snapshot from candles: last
// close as price, Wilder ATR/ADX/RSI, and the last candle's volume
// against the recent average.
func SnapshotFromKlines(klines []Kline) *risk.MarketData {
	if len(klines) == 0 {
		return nil
	}

	last := klines[len(klines)-1]

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	lookback := volumeLookback
	if len(klines) < lookback {
		lookback = len(klines)
	}
	volumes := make([]float64, 0, lookback)
	for _, k := range klines[len(klines)-lookback:] {
		volumes = append(volumes, k.Volume)
	}

	return &risk.MarketData{
		Price:     last.Close,
		ATR:       ATR(klines, defaultPeriod),
		Volume:    last.Volume,
		VolumeAvg: mean(volumes),
		ADX:       ADX(klines, defaultPeriod),
		RSI:       RSI(closes, defaultPeriod),
	}
}
