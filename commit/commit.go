// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package commit implements the optimistic-concurrency commit
// protocol.
//
// A transaction accumulates candidate actions against a base snapshot,
// then races for the next version slot with a conditional put. Losing
// the race is not failure: the winner's actions are fetched and, when
// the two footprints are disjoint, the transaction is rebased onto the
// winner's version and retried with an unchanged payload, up to a
// bounded budget. Isolation comes entirely from the version-slot race
// and the footprint check; no lock is held anywhere.
package commit // import "tablelog.io/commit"

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"tablelog.io/action"
	"tablelog.io/errors"
	"tablelog.io/segment"
	"tablelog.io/snapshot"
	"tablelog.io/storage"
	"tablelog.io/tablelog"
	"tablelog.io/valid"
	"tablelog.io/version"
)

// State is the phase a transaction is in.
type State int

// Transaction states. A transaction moves Building → Attempting and
// then either terminates (Committed, Failed) or cycles through
// Reconciling back to Attempting after losing a version-slot race.
const (
	Building State = iota
	Attempting
	Reconciling
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Attempting:
		return "attempting"
	case Reconciling:
		return "reconciling"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Capabilities declares the protocol versions and named features a
// client implements. The coordinator refuses, before any storage
// write, to commit to a table whose protocol demands more.
type Capabilities struct {
	ReaderVersion  int
	WriterVersion  int
	ReaderFeatures []string
	WriterFeatures []string
}

// DefaultCapabilities describes what this engine implements.
var DefaultCapabilities = Capabilities{
	ReaderVersion:  3,
	WriterVersion:  7,
	ReaderFeatures: []string{"deletionVectors"},
	WriterFeatures: []string{"deletionVectors", "domainMetadata"},
}

// Supports checks the table protocol against the client capabilities.
// A nil protocol (uninitialized table) is always supported.
func (c Capabilities) Supports(p *action.Protocol) error {
	const op errors.Op = "commit.Capabilities.Supports"
	if p == nil {
		return nil
	}
	if p.MinReaderVersion > c.ReaderVersion {
		return errors.E(op, errors.UnsupportedProtocol,
			errors.Errorf("table requires reader version %d, have %d", p.MinReaderVersion, c.ReaderVersion))
	}
	if p.MinWriterVersion > c.WriterVersion {
		return errors.E(op, errors.UnsupportedProtocol,
			errors.Errorf("table requires writer version %d, have %d", p.MinWriterVersion, c.WriterVersion))
	}
	for _, f := range p.ReaderFeatures {
		if !hasFeature(c.ReaderFeatures, f) {
			return errors.E(op, errors.UnsupportedProtocol, errors.Errorf("unsupported reader feature %q", f))
		}
	}
	for _, f := range p.WriterFeatures {
		if !hasFeature(c.WriterFeatures, f) {
			return errors.E(op, errors.UnsupportedProtocol, errors.Errorf("unsupported writer feature %q", f))
		}
	}
	return nil
}

func hasFeature(fs []string, f string) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

// Options configures a Coordinator.
type Options struct {
	// MaxRetries bounds rebase attempts after losing version-slot
	// races. Exceeding it fails with RetriesExceeded, distinguishing
	// contention from a genuine conflict.
	MaxRetries int
	// Capabilities declares what the caller implements; nil means
	// DefaultCapabilities.
	Capabilities *Capabilities
	// EngineInfo is recorded in commit provenance.
	EngineInfo string
}

const defaultMaxRetries = 10

// Coordinator builds and commits transactions for one table.
type Coordinator struct {
	store storage.Storage
	table tablelog.TablePath
	opts  Options
}

// New returns a Coordinator for the table. A nil opts uses defaults.
func New(store storage.Storage, table tablelog.TablePath, opts *Options) *Coordinator {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.Capabilities == nil {
		o.Capabilities = &DefaultCapabilities
	}
	if o.EngineInfo == "" {
		o.EngineInfo = "tablelog/" + version.Version()
	}
	return &Coordinator{store: store, table: table, opts: o}
}

// Begin starts a transaction against base. A nil base commits version
// 0 of an uninitialized table; such a first commit must supply both
// metadata and protocol.
func (c *Coordinator) Begin(base *snapshot.Snapshot) *Txn {
	return &Txn{
		coord: c,
		base:  base,
		state: Building,
		reads: make(map[tablelog.DataPath]bool),
	}
}

// Txn is one commit attempt's accumulated candidate actions.
// A Txn is not safe for concurrent use.
type Txn struct {
	coord *Coordinator
	base  *snapshot.Snapshot
	state State

	actions    []action.Action
	reads      map[tablelog.DataPath]bool
	operation  string
	params     map[string]string
	commitInfo *action.CommitInfo
}

// State returns the transaction's current phase.
func (t *Txn) State() State { return t.state }

// Add stages an add action.
func (t *Txn) Add(a *action.Add) *Txn {
	t.actions = append(t.actions, action.Action{Add: a})
	return t
}

// Remove stages a remove action.
func (t *Txn) Remove(r *action.Remove) *Txn {
	t.actions = append(t.actions, action.Action{Remove: r})
	return t
}

// SetMetadata stages a metadata action.
func (t *Txn) SetMetadata(m *action.Metadata) *Txn {
	t.actions = append(t.actions, action.Action{Metadata: m})
	return t
}

// SetProtocol stages a protocol action.
func (t *Txn) SetProtocol(p *action.Protocol) *Txn {
	t.actions = append(t.actions, action.Action{Protocol: p})
	return t
}

// PutDomainMetadata stages a domain metadata action.
func (t *Txn) PutDomainMetadata(d *action.DomainMetadata) *Txn {
	t.actions = append(t.actions, action.Action{DomainMetadata: d})
	return t
}

// RecordTxn stages an application transaction watermark.
func (t *Txn) RecordTxn(app tablelog.AppID, v int64) *Txn {
	now := time.Now().UnixMilli()
	t.actions = append(t.actions, action.Action{Txn: &action.Txn{AppID: app, Version: v, LastUpdated: &now}})
	return t
}

// DeclareRead adds a data path to the transaction's read footprint,
// so a concurrent commit touching that file conflicts even though
// this transaction does not rewrite it.
func (t *Txn) DeclareRead(p tablelog.DataPath) *Txn {
	t.reads[p] = true
	return t
}

// WithOperation names the operation for commit provenance, such as
// "WRITE" or "DELETE", with optional parameters.
func (t *Txn) WithOperation(name string, params map[string]string) *Txn {
	t.operation = name
	t.params = params
	return t
}

// WithCommitInfo supplies explicit commit provenance, replacing the
// automatically generated record.
func (t *Txn) WithCommitInfo(ci *action.CommitInfo) *Txn {
	t.commitInfo = ci
	return t
}

// won holds one commit that beat us to a version slot.
type won struct {
	version tablelog.Version
	actions []action.Action
}

// Commit runs the transaction to completion: protocol gating,
// validation, then the attempt/reconcile loop. On success it returns
// the committed version and the resulting snapshot.
func (t *Txn) Commit(ctx context.Context) (tablelog.Version, *snapshot.Snapshot, error) {
	const op errors.Op = "commit.Txn.Commit"
	c := t.coord
	if t.state != Building {
		return tablelog.NoVersion, nil, errors.E(op, c.table, errors.Invalid, errors.Errorf("transaction is %v, not building", t.state))
	}
	caps := *c.opts.Capabilities

	// Gate on the table's protocol, and on any protocol this commit
	// introduces, before any storage write.
	var baseProtocol *action.Protocol
	if t.base != nil {
		baseProtocol = t.base.Protocol()
	}
	if err := caps.Supports(baseProtocol); err != nil {
		return t.fail(op, err)
	}
	for i := range t.actions {
		if p := t.actions[i].Protocol; p != nil {
			if err := caps.Supports(p); err != nil {
				return t.fail(op, err)
			}
		}
	}
	if t.base == nil || t.base.Metadata() == nil {
		if !t.carries(func(a *action.Action) bool { return a.Metadata != nil }) ||
			!t.carries(func(a *action.Action) bool { return a.Protocol != nil }) {
			return t.fail(op, errors.E(errors.Invalid, errors.Str("first commit must supply metadata and protocol")))
		}
	}
	if err := valid.Actions(t.actions); err != nil {
		return t.fail(op, err)
	}

	acts := t.withCommitInfo()
	payload, err := action.MarshalAll(acts)
	if err != nil {
		return t.fail(op, errors.E(errors.Internal, err))
	}
	ours := footprintOf(acts, t.reads)

	baseVersion := tablelog.NoVersion
	if t.base != nil {
		baseVersion = t.base.Version()
	}
	attempt := baseVersion + 1
	var winners []won

	for try := 0; ; try++ {
		if try > c.opts.MaxRetries {
			return t.fail(op, errors.E(c.table, errors.RetriesExceeded,
				errors.Errorf("gave up after %d attempts at versions through %d", try, attempt)))
		}
		t.state = Attempting
		ref := segment.CommitRef(c.table, attempt)
		err := c.store.PutIfAbsent(ctx, ref, payload)
		switch {
		case err == nil:
			return t.committed(op, attempt, acts, winners)
		case errors.Is(errors.Exist, err):
			// Fall through to reconcile.
		case errors.Is(errors.TransientIO, err):
			// The put's outcome was never observed; it may have
			// won. Re-read the slot before concluding anything.
			data, gerr := c.store.Get(ctx, ref)
			switch {
			case gerr == nil && bytes.Equal(data, payload):
				return t.committed(op, attempt, acts, winners)
			case gerr == nil:
				// Someone else holds the slot; reconcile below.
			case errors.Is(errors.NotExist, gerr):
				continue // the put never landed; retry the slot
			default:
				return t.fail(op, gerr)
			}
		default:
			return t.fail(op, err)
		}

		t.state = Reconciling
		newWinners, next, err := t.reconcile(ctx, &caps, ours, attempt)
		if err != nil {
			return t.fail(op, err)
		}
		winners = append(winners, newWinners...)
		attempt = next
	}
}

// reconcile fetches every commit from version from upward, verifies
// none of them intersects our footprint, and returns them with the
// next free version slot to try.
func (t *Txn) reconcile(ctx context.Context, caps *Capabilities, ours *footprint, from tablelog.Version) ([]won, tablelog.Version, error) {
	c := t.coord
	var winners []won
	v := from
	for {
		data, err := c.store.Get(ctx, segment.CommitRef(c.table, v))
		if errors.Is(errors.NotExist, err) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		wacts, err := action.ParseAll(data)
		if err != nil {
			return nil, 0, errors.E(c.table, v, err)
		}
		// A protocol upgrade by the winner re-gates this client.
		for i := range wacts {
			if p := wacts[i].Protocol; p != nil {
				if err := caps.Supports(p); err != nil {
					return nil, 0, errors.E(c.table, v, err)
				}
			}
		}
		theirs := footprintOf(wacts, nil)
		if at, overlap := ours.intersects(theirs); overlap {
			return nil, 0, errors.E(c.table, v, errors.ConcurrentModification,
				errors.Errorf("concurrent commit touched %s", at))
		}
		winners = append(winners, won{version: v, actions: wacts})
		v++
	}
	return winners, v, nil
}

// committed folds the winners and our own actions onto the base to
// produce the resulting snapshot.
func (t *Txn) committed(op errors.Op, v tablelog.Version, acts []action.Action, winners []won) (tablelog.Version, *snapshot.Snapshot, error) {
	t.state = Committed
	b := snapshot.NewBuilder(t.coord.table, t.base)
	for _, w := range winners {
		for i := range w.actions {
			b.Apply(&w.actions[i], w.version)
		}
	}
	for i := range acts {
		b.Apply(&acts[i], v)
	}
	snap, err := b.Build(v)
	if err != nil {
		// The commit is durable; only the materialized view failed.
		return v, nil, errors.E(op, t.coord.table, v, err)
	}
	return v, snap, nil
}

func (t *Txn) fail(op errors.Op, err error) (tablelog.Version, *snapshot.Snapshot, error) {
	t.state = Failed
	return tablelog.NoVersion, nil, errors.E(op, t.coord.table, err)
}

func (t *Txn) carries(pred func(*action.Action) bool) bool {
	for i := range t.actions {
		if pred(&t.actions[i]) {
			return true
		}
	}
	return false
}

// withCommitInfo returns the transaction's actions with provenance
// prepended: the caller's explicit record if supplied, a generated one
// otherwise, and nothing extra if the staged actions already include
// commit info.
func (t *Txn) withCommitInfo() []action.Action {
	ci := t.commitInfo
	if ci == nil {
		if t.carries(func(a *action.Action) bool { return a.CommitInfo != nil }) {
			return t.actions
		}
		now := time.Now().UnixMilli()
		operation := t.operation
		if operation == "" {
			operation = "WRITE"
		}
		ci = &action.CommitInfo{
			Timestamp:           &now,
			Operation:           operation,
			OperationParameters: t.params,
			EngineInfo:          t.coord.opts.EngineInfo,
			TxnID:               uuid.NewString(),
		}
	}
	return append([]action.Action{{CommitInfo: ci}}, t.actions...)
}
