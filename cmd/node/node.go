package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/coordclient"
	"github.com/dreamware/tabletcoord/internal/coordinator"
	"github.com/dreamware/tabletcoord/internal/storage"
	"github.com/dreamware/tabletcoord/internal/tablet"
)

// Node is a storage server: the tablets it serves, the store and log they
// share, and its link to the coordinator.
//
// Tablets arrive three ways: a table created by the coordinator (picked up
// from the tablet map the first time a key of it is requested), a recovery
// assignment on /recover, or a migration on /receive.
//
// Concurrency model:
//   - mu guards the tablet set and the server id
//   - individual tablets handle their own synchronization
type Node struct {
	client  *coordclient.Client
	store   storage.Store
	log     *tablet.Log
	addr    string
	timeout time.Duration

	mu      sync.RWMutex
	id      cluster.ServerId
	tablets []*tablet.Tablet
}

// NewNode creates a node with no tablets. The log's roll hook publishes
// recovery info through client once the node has an id.
//
// Parameters:
//   - client: coordinator client
//   - addr: the locator other servers reach this node at
//   - segmentSize: log segment size; 0 means tablet.DefaultSegmentSize
//   - timeout: deadline for each coordinator call made on the node's behalf
func NewNode(client *coordclient.Client, addr string, segmentSize uint32, timeout time.Duration) *Node {
	n := &Node{
		client:  client,
		store:   storage.NewMemoryStore(),
		addr:    addr,
		timeout: timeout,
	}
	n.log = tablet.NewLog(segmentSize, n.publishRecoveryInfo)
	return n
}

// ID returns the id this node enlisted under, or an invalid id before
// enlistment.
func (n *Node) ID() cluster.ServerId {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

func (n *Node) setID(id cluster.ServerId) {
	n.mu.Lock()
	n.id = id
	n.mu.Unlock()
}

func (n *Node) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), n.timeout)
}

// publishRecoveryInfo is the log's roll hook: before segmentId takes any
// data the coordinator learns it is the newest segment.
func (n *Node) publishRecoveryInfo(segmentId uint64) error {
	id := n.ID()
	if !id.IsValid() {
		return nil
	}
	ctx, cancel := n.rpcContext()
	defer cancel()
	if err := n.client.SetMasterRecoveryInfo(ctx, id, tablet.EncodeRecoveryInfo(segmentId)); err != nil {
		return err
	}
	log.Printf("node[%s] published recovery info: head segment %d", id, segmentId)
	return nil
}

// findTablet returns the tablet serving keyHash of tableId, or nil.
func (n *Node) findTablet(tableId, keyHash uint64) *tablet.Tablet {
	n.mu.RLock()
	defer n.mu.RUnlock()

	i := slices.IndexFunc(n.tablets, func(t *tablet.Tablet) bool {
		return t.TableId == tableId && keyHash >= t.FirstKeyHash && keyHash <= t.LastKeyHash
	})
	if i < 0 {
		return nil
	}
	return n.tablets[i]
}

// exactTablet returns the tablet with exactly ct's range, or nil.
func (n *Node) exactTablet(ct cluster.Tablet) *tablet.Tablet {
	n.mu.RLock()
	defer n.mu.RUnlock()

	i := slices.IndexFunc(n.tablets, func(t *tablet.Tablet) bool { return t.SameRange(ct) })
	if i < 0 {
		return nil
	}
	return n.tablets[i]
}

// addTablet starts serving ct's range in the given state and returns the
// tablet. An existing tablet with the same range is reused.
func (n *Node) addTablet(ct cluster.Tablet, state tablet.State) *tablet.Tablet {
	n.mu.Lock()
	defer n.mu.Unlock()

	if i := slices.IndexFunc(n.tablets, func(t *tablet.Tablet) bool { return t.SameRange(ct) }); i >= 0 {
		n.tablets[i].SetState(state)
		return n.tablets[i]
	}
	t := tablet.New(ct.TableId, ct.FirstKeyHash, ct.LastKeyHash, n.store, n.log)
	t.SetState(state)
	n.tablets = append(n.tablets, t)
	return t
}

// removeTablet stops serving t and deletes its objects.
func (n *Node) removeTablet(t *tablet.Tablet) {
	n.mu.Lock()
	n.tablets = slices.DeleteFunc(n.tablets, func(o *tablet.Tablet) bool { return o == t })
	n.mu.Unlock()
	t.Drop()
}

// refreshTablets fetches the tablet map and starts serving every normal
// tablet the coordinator says this node owns.
func (n *Node) refreshTablets(ctx context.Context) error {
	id := n.ID()
	m, err := n.client.GetTabletMap(ctx)
	if err != nil {
		return err
	}
	for _, ct := range m.OwnedBy(id) {
		if ct.Status == cluster.TabletNormal && n.exactTablet(ct) == nil {
			log.Printf("node[%s] now serving table %d [%d, %d]", id, ct.TableId, ct.FirstKeyHash, ct.LastKeyHash)
			n.addTablet(ct, tablet.StateNormal)
		}
	}
	return nil
}

func (n *Node) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/data/", n.handleData)
	mux.HandleFunc("/recover", n.handleRecover)
	mux.HandleFunc("/migrate", n.handleMigrate)
	mux.HandleFunc("/receive", n.handleReceive)
	mux.HandleFunc("/info", n.handleInfo)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleData serves /data/{tableId}/{key}.
//
// Response:
//   - 200 OK: value (GET)
//   - 204 No Content: stored or deleted
//   - 404 Not Found: missing key, or no tablet here covers the key
//   - 503 Service Unavailable: the tablet is recovering or migrating
func (n *Node) handleData(w http.ResponseWriter, r *http.Request) {
	tableStr, key, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/data/"), "/")
	if !ok || key == "" {
		http.Error(w, "want /data/{table}/{key}", http.StatusBadRequest)
		return
	}
	tableId, err := strconv.ParseUint(tableStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid table id", http.StatusBadRequest)
		return
	}

	t := n.findTablet(tableId, cluster.KeyHash(key))
	if t == nil {
		ctx, cancel := n.rpcContext()
		err := n.refreshTablets(ctx)
		cancel()
		if err != nil {
			log.Printf("node[%s] tablet map refresh failed: %v", n.ID(), err)
		}
		t = n.findTablet(tableId, cluster.KeyHash(key))
	}
	if t == nil {
		http.Error(w, "tablet not served here", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := t.Get(key)
		if err != nil {
			writeDataError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := w.Write(value); err != nil {
			log.Printf("Error writing response: %v", err)
		}
	case http.MethodPut:
		value, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := t.Put(key, value); err != nil {
			writeDataError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := t.Delete(key); err != nil {
			writeDataError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeDataError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		http.Error(w, "key not found", http.StatusNotFound)
	case errors.Is(err, tablet.ErrNotServing):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleRecover performs a recovery assignment posted by the coordinator.
// The recovered tablets start empty at the current log head. Once the
// coordinator has accepted RecoveryMasterFinished, only the ranges the
// tablet map shows granted to this node are served. An assignment for a
// range this node already serves is refused and reported as failed.
func (n *Node) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rec coordinator.Recovery
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	id := n.ID()
	if rec.Master != id {
		http.Error(w, fmt.Sprintf("recovery %d is for %s, not %s", rec.Id, rec.Master, id), http.StatusConflict)
		return
	}

	if segment, err := tablet.DecodeRecoveryInfo(rec.RecoveryInfo); err == nil {
		log.Printf("node[%s] recovery %d of %s: log ends at segment %d", id, rec.Id, rec.Crashed, segment)
	} else {
		log.Printf("node[%s] recovery %d of %s: no usable recovery info: %v", id, rec.Id, rec.Crashed, err)
	}

	for _, ct := range rec.Tablets {
		if n.exactTablet(ct) != nil {
			n.failRecovery(rec, id)
			http.Error(w, fmt.Sprintf("table %d [%d, %d] is already served here", ct.TableId, ct.FirstKeyHash, ct.LastKeyHash), http.StatusConflict)
			return
		}
	}

	head := n.log.Head()
	recovered := make([]*tablet.Tablet, 0, len(rec.Tablets))
	report := make(cluster.TabletMap, 0, len(rec.Tablets))
	for _, ct := range rec.Tablets {
		t := n.addTablet(ct, tablet.StateRecovering)
		recovered = append(recovered, t)
		report = append(report, t.Descriptor(id, head))
	}

	ctx, cancel := n.rpcContext()
	defer cancel()
	if err := n.client.RecoveryMasterFinished(ctx, rec.Id, id, report, true); err != nil {
		log.Printf("node[%s] recovery %d rejected: %v", id, rec.Id, err)
		n.failRecovery(rec, id)
		for _, t := range recovered {
			n.removeTablet(t)
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	// A nil error does not mean every tablet was granted.
	m, err := n.client.GetTabletMap(ctx)
	if err != nil {
		log.Printf("node[%s] recovery %d: tablet map unavailable, serving granted tablets later: %v", id, rec.Id, err)
	}
	serving := 0
	for _, t := range recovered {
		if granted(m, id, t) {
			t.SetState(tablet.StateNormal)
			serving++
			continue
		}
		n.removeTablet(t)
	}
	log.Printf("node[%s] recovery %d done: serving %d of %d tablets of %s", id, rec.Id, serving, len(recovered), rec.Crashed)
	w.WriteHeader(http.StatusOK)
}

// failRecovery reports that this node will not finish rec, so the
// coordinator can assign it elsewhere.
func (n *Node) failRecovery(rec coordinator.Recovery, id cluster.ServerId) {
	ctx, cancel := n.rpcContext()
	defer cancel()
	if err := n.client.RecoveryMasterFinished(ctx, rec.Id, id, rec.Tablets, false); err != nil {
		log.Printf("node[%s] failure report for recovery %d not accepted: %v", id, rec.Id, err)
		return
	}
	log.Printf("node[%s] reported recovery %d as failed", id, rec.Id)
}

// granted reports whether m shows t's range owned by id and serving.
func granted(m cluster.TabletMap, id cluster.ServerId, t *tablet.Tablet) bool {
	for _, ct := range m.OwnedBy(id) {
		if t.SameRange(ct) && ct.Status == cluster.TabletNormal {
			return true
		}
	}
	return false
}

// MigrateRequest asks a node to hand one of its tablets to another master.
type MigrateRequest struct {
	TableId      uint64           `json:"table_id"`
	FirstKeyHash uint64           `json:"first_key_hash"`
	LastKeyHash  uint64           `json:"last_key_hash"`
	Target       cluster.ServerId `json:"target"`
}

// ReceiveRequest carries a migrated tablet and its objects.
type ReceiveRequest struct {
	TableId      uint64           `json:"table_id"`
	FirstKeyHash uint64           `json:"first_key_hash"`
	LastKeyHash  uint64           `json:"last_key_hash"`
	Objects      []storage.Object `json:"objects"`
}

// ReceiveResponse reports where the receiver's log stood when the tablet
// arrived; it becomes the tablet's ctime.
type ReceiveResponse struct {
	Ctime  cluster.Ctime `json:"ctime"`
	Loaded int           `json:"loaded"`
}

// handleMigrate moves a tablet to req.Target.
//
// Process:
//  1. Stop writes to the tablet
//  2. Push its objects to the target's /receive
//  3. ReassignTabletOwnership with the target's log head as ctime
//  4. Drop the local copy
//
// If the target cannot be reached it is hinted down and the tablet stays.
func (n *Node) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	ctx, cancel := n.rpcContext()
	defer cancel()

	ct := cluster.Tablet{TableId: req.TableId, FirstKeyHash: req.FirstKeyHash, LastKeyHash: req.LastKeyHash}
	t := n.exactTablet(ct)
	if t == nil {
		if err := n.refreshTablets(ctx); err != nil {
			log.Printf("node[%s] tablet map refresh failed: %v", n.ID(), err)
		}
		t = n.exactTablet(ct)
	}
	if t == nil {
		http.Error(w, "tablet not served here", http.StatusNotFound)
		return
	}

	masters, err := n.client.GetMasterList(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	target, ok := masters.Find(req.Target)
	if !ok || req.Target == n.ID() {
		http.Error(w, fmt.Sprintf("%s is not another up master", req.Target), http.StatusBadRequest)
		return
	}

	t.SetState(tablet.StateMigrating)
	body := ReceiveRequest{
		TableId:      t.TableId,
		FirstKeyHash: t.FirstKeyHash,
		LastKeyHash:  t.LastKeyHash,
		Objects:      t.Objects(),
	}
	var resp ReceiveResponse
	url := strings.TrimRight(target.ServiceLocator, "/") + "/receive"
	if err := cluster.PostJSON(ctx, url, body, &resp); err != nil {
		t.SetState(tablet.StateNormal)
		log.Printf("node[%s] migration to %s failed: %v; hinting it down", n.ID(), target.ServerId, err)
		if hintErr := n.client.HintServerDown(ctx, target.ServerId); hintErr != nil {
			log.Printf("node[%s] hint for %s failed: %v", n.ID(), target.ServerId, hintErr)
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if err := n.client.ReassignTabletOwnership(ctx, t.TableId, t.FirstKeyHash, t.LastKeyHash,
		target.ServerId, resp.Ctime); err != nil {
		t.SetState(tablet.StateNormal)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	n.removeTablet(t)
	log.Printf("node[%s] migrated table %d [%d, %d] (%d objects) to %s",
		n.ID(), t.TableId, t.FirstKeyHash, t.LastKeyHash, resp.Loaded, target.ServerId)
	writeJSON(w, http.StatusOK, resp)
}

// handleReceive accepts a tablet pushed by handleMigrate.
func (n *Node) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.FirstKeyHash > req.LastKeyHash {
		http.Error(w, "empty range", http.StatusBadRequest)
		return
	}

	head := n.log.Head()
	t := n.addTablet(cluster.Tablet{
		TableId:      req.TableId,
		FirstKeyHash: req.FirstKeyHash,
		LastKeyHash:  req.LastKeyHash,
	}, tablet.StateNormal)
	loaded, err := t.Load(req.Objects)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ReceiveResponse{Ctime: head, Loaded: loaded})
}

// NodeInfo is the body of GET /info.
type NodeInfo struct {
	ServerId cluster.ServerId   `json:"server_id"`
	Locator  string             `json:"locator"`
	LogHead  cluster.Ctime      `json:"log_head"`
	Storage  storage.StoreStats `json:"storage"`
	Tablets  []tablet.Info      `json:"tablets"`
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	n.mu.RLock()
	infos := make([]tablet.Info, 0, len(n.tablets))
	for _, t := range n.tablets {
		infos = append(infos, t.Info())
	}
	id := n.id
	n.mu.RUnlock()

	writeJSON(w, http.StatusOK, NodeInfo{
		ServerId: id,
		Locator:  n.addr,
		LogHead:  n.log.Head(),
		Storage:  n.store.Stats(),
		Tablets:  infos,
	})
}
