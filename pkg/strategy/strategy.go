// Package strategy resolves a decision among competing behaviours.
//
// A strategy holds an ordered list of behaviours and an aggregation policy.
// On every Compute it keeps only the behaviours active for the agent and
// folds their outputs into one value:
//
//   - Accumulate concatenates every active output in registration order.
//   - Sequential threads the input through active behaviours, left to right.
//   - Random returns the output of one active behaviour picked uniformly.
//   - InfluenceGraph lets behaviours vote for or against candidates and
//     returns the best scored one (first in input order on ties).
//
// Every policy fails with ErrNoActiveBehaviour when no behaviour is active.
package strategy

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Policy names an aggregation policy.
type Policy string

const (
	PolicyAccumulate     Policy = "accumulate"
	PolicySequential     Policy = "sequential"
	PolicyRandom         Policy = "random"
	PolicyInfluenceGraph Policy = "influence-graph"
)

// Strategy is the statically typed view flows use to decide.
type Strategy[Out, In any] interface {
	Name() string
	Policy() Policy
	Behaviours() []string
	Freeze()
	Frozen() bool
	Compute(agent Agent, in In) (Out, error)
}

// Accumulate concatenates the outputs of all active behaviours.
type Accumulate[E, In any] struct {
	behaviours[[]E, In]
}

// NewAccumulate creates an empty accumulate strategy.
func NewAccumulate[E, In any](name string) *Accumulate[E, In] {
	return &Accumulate[E, In]{behaviours: behaviours[[]E, In]{name: name}}
}

func (s *Accumulate[E, In]) Policy() Policy { return PolicyAccumulate }

func (s *Accumulate[E, In]) Compute(agent Agent, in In) ([]E, error) {
	active, err := s.active(agent)
	if err != nil {
		return nil, err
	}

	var out []E
	for _, b := range active {
		out = append(out, b.Compute(agent, in)...)
	}
	return out, nil
}

// Sequential folds its input through every active behaviour:
// out = bN(... b2(b1(in))).
type Sequential[T any] struct {
	behaviours[T, T]
}

// NewSequential creates an empty sequential strategy.
func NewSequential[T any](name string) *Sequential[T] {
	return &Sequential[T]{behaviours: behaviours[T, T]{name: name}}
}

func (s *Sequential[T]) Policy() Policy { return PolicySequential }

func (s *Sequential[T]) Compute(agent Agent, in T) (T, error) {
	active, err := s.active(agent)
	if err != nil {
		var zero T
		return zero, err
	}

	out := in
	for _, b := range active {
		out = b.Compute(agent, out)
	}
	return out, nil
}

// Random returns the output of one active behaviour chosen uniformly. The
// pick is redrawn on every call.
type Random[Out, In any] struct {
	behaviours[Out, In]

	rngMu sync.Mutex
	rng   *rand.Rand
}

// RandomOption configures a Random strategy.
type RandomOption func(*randomOptions)

type randomOptions struct {
	rng *rand.Rand
}

// WithSeed makes picks reproducible.
func WithSeed(seed uint64) RandomOption {
	return func(o *randomOptions) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand uses r for picks. r is only accessed under the strategy's lock.
func WithRand(r *rand.Rand) RandomOption {
	return func(o *randomOptions) {
		o.rng = r
	}
}

// NewRandom creates an empty random strategy.
func NewRandom[Out, In any](name string, opts ...RandomOption) *Random[Out, In] {
	var o randomOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Random[Out, In]{behaviours: behaviours[Out, In]{name: name}, rng: o.rng}
}

func (s *Random[Out, In]) Policy() Policy { return PolicyRandom }

func (s *Random[Out, In]) Compute(agent Agent, in In) (Out, error) {
	active, err := s.active(agent)
	if err != nil {
		var zero Out
		return zero, err
	}
	return active[s.pick(len(active))].Compute(agent, in), nil
}

func (s *Random[Out, In]) pick(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// Influence is a signed vote cast by a behaviour on one candidate.
type Influence[C comparable] struct {
	Target   C
	Positive bool
}

// For is a positive influence on target.
func For[C comparable](target C) Influence[C] {
	return Influence[C]{Target: target, Positive: true}
}

// Against is a negative influence on target.
func Against[C comparable](target C) Influence[C] {
	return Influence[C]{Target: target}
}

// InfluenceGraph scores candidates with the influences cast by active
// behaviours. Each candidate starts at zero; a positive influence adds one,
// a negative one subtracts one. The winner is the first candidate, in input
// order, holding the maximum score.
type InfluenceGraph[C comparable] struct {
	behaviours[[]Influence[C], []C]
}

// NewInfluenceGraph creates an empty influence graph strategy.
func NewInfluenceGraph[C comparable](name string) *InfluenceGraph[C] {
	return &InfluenceGraph[C]{behaviours: behaviours[[]Influence[C], []C]{name: name}}
}

func (s *InfluenceGraph[C]) Policy() Policy { return PolicyInfluenceGraph }

// Scores returns the score of every candidate, aligned with candidates.
// Influences on values that are not candidates are ignored. With duplicate
// candidates the first occurrence collects the votes.
func (s *InfluenceGraph[C]) Scores(agent Agent, candidates []C) ([]int, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", s.name, ErrEmptyCandidateSet)
	}
	active, err := s.active(agent)
	if err != nil {
		return nil, err
	}

	index := make(map[C]int, len(candidates))
	for i, c := range candidates {
		if _, seen := index[c]; !seen {
			index[c] = i
		}
	}

	scores := make([]int, len(candidates))
	for _, b := range active {
		for _, inf := range b.Compute(agent, candidates) {
			i, ok := index[inf.Target]
			if !ok {
				continue
			}
			if inf.Positive {
				scores[i]++
			} else {
				scores[i]--
			}
		}
	}
	return scores, nil
}

func (s *InfluenceGraph[C]) Compute(agent Agent, candidates []C) (C, error) {
	scores, err := s.Scores(agent, candidates)
	if err != nil {
		var zero C
		return zero, err
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return candidates[best], nil
}
