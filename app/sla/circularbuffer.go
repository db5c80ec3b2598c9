/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package sla

type circularBuffer struct {
	windowSize int
	values     []float64
	counter    int
}

func newCircularBuffer(windowSize int) *circularBuffer {
	return &circularBuffer{
		windowSize: windowSize,
		values:     make([]float64, windowSize),
	}
}

func (buff *circularBuffer) getN() int {
	if buff.counter >= buff.windowSize {
		return buff.windowSize
	}
	return buff.counter
}

func (buff *circularBuffer) getMean() float64 {
	n := buff.getN()
	if n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += buff.values[i]
	}
	return total / float64(n)
}

// getRate returns the percentage of samples that are non-zero.
func (buff *circularBuffer) getRate() float64 {
	n := buff.getN()
	if n == 0 {
		return 0
	}
	var hits int
	for i := 0; i < n; i++ {
		if buff.values[i] != 0 {
			hits++
		}
	}
	return float64(hits) / float64(n) * 100
}

func (buff *circularBuffer) addValue(value float64) {
	buff.values[buff.counter%buff.windowSize] = value
	buff.counter++
}
