package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/wire"
)

// Service answers coordinator RPCs. It implements transport.Handler, so it
// can sit behind transport.NewHTTPHandler or a transport.LoopbackDriver.
//
// Reads go straight to the registries. Changes that touch more than one
// registry (enlisting with a replacement, declaring a server down, moving
// tablets) are serialized by the service.
type Service struct {
	servers    *ServerRegistry
	tablets    *TabletRegistry
	recoveries *RecoveryManager
	health     *HealthMonitor

	mu sync.Mutex
}

// NewService creates a coordinator with empty registries.
//
// Parameters:
//   - health: used to double-check HintServerDown; nil means hints are
//     trusted as given
//   - assign: notified of every recovery attempt; may be nil
func NewService(health *HealthMonitor, assign Assigner) *Service {
	servers := NewServerRegistry()
	tablets := NewTabletRegistry()
	return &Service{
		servers:    servers,
		tablets:    tablets,
		recoveries: NewRecoveryManager(servers, tablets, assign),
		health:     health,
	}
}

// Servers returns the membership registry.
func (s *Service) Servers() *ServerRegistry { return s.servers }

// Tablets returns the tablet registry.
func (s *Service) Tablets() *TabletRegistry { return s.tablets }

// Recoveries returns the recovery manager.
func (s *Service) Recoveries() *RecoveryManager { return s.recoveries }

type handlerFunc func(s *Service, ctx context.Context, req []byte) ([]byte, error)

var handlers = map[wire.Opcode]handlerFunc{
	wire.OpEnlistServer:            (*Service).enlistServer,
	wire.OpGetServerList:           (*Service).getServerList,
	wire.OpGetTabletMap:            (*Service).getTabletMap,
	wire.OpHintServerDown:          (*Service).hintServerDown,
	wire.OpReassignTabletOwnership: (*Service).reassignTabletOwnership,
	wire.OpRecoveryMasterFinished:  (*Service).recoveryMasterFinished,
	wire.OpSetMasterRecoveryInfo:   (*Service).setMasterRecoveryInfo,
	wire.OpVerifyMembership:        (*Service).verifyMembership,
}

// HandleRPC decodes one request, runs it and returns the encoded response.
// Every failure is reported as a status; HandleRPC never returns nil.
func (s *Service) HandleRPC(ctx context.Context, req []byte) []byte {
	common, err := wire.PeekRequestCommon(req)
	if err != nil {
		return statusOnly(wire.StatusMessageTooShort)
	}
	handler, ok := handlers[common.Opcode]
	if !ok || common.Service != wire.CoordinatorService {
		log.Printf("coordinator: unimplemented request %s for service %d", common.Opcode, common.Service)
		return statusOnly(wire.StatusUnimplementedRequest)
	}

	resp, err := handler(s, ctx, req)
	if err != nil {
		status := StatusFor(err)
		if status != wire.StatusCallerNotInCluster {
			log.Printf("coordinator: %s failed: %v", common.Opcode, err)
		}
		return statusOnly(status)
	}
	return resp
}

// StatusFor maps an error from the registries or the codec onto the status
// sent back to the caller.
func StatusFor(err error) wire.Status {
	var status statusError
	switch {
	case err == nil:
		return wire.StatusOK
	case errors.As(err, &status):
		return status.status
	case errors.Is(err, ErrServerNotUp):
		return wire.StatusServerNotUp
	case errors.Is(err, ErrUnknownTablet):
		return wire.StatusUnknownTablet
	case errors.Is(err, ErrTableDoesntExist):
		return wire.StatusTableDoesntExist
	case errors.Is(err, ErrUnknownRecovery):
		return wire.StatusUnknownRecovery
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrTableExists):
		return wire.StatusInvalidParameter
	case errors.Is(err, ErrNoMasters), errors.Is(err, ErrTabletRecovering):
		return wire.StatusRetry
	case errors.Is(err, wire.ErrMessageTooShort):
		return wire.StatusMessageTooShort
	case errors.Is(err, wire.ErrTrailerLength), errors.Is(err, wire.ErrWrongOpcode):
		return wire.StatusRequestFormatError
	default:
		return wire.StatusInternalError
	}
}

// statusError carries a status that has no registry error of its own.
type statusError struct {
	status wire.Status
}

func (e statusError) Error() string { return e.status.String() }

func statusOnly(status wire.Status) []byte {
	resp, _ := wire.EncodeResponse(status, nil, nil)
	return resp
}

func okResponse(hdr any, trailer []byte) ([]byte, error) {
	return wire.EncodeResponse(wire.StatusOK, hdr, trailer)
}

func (s *Service) enlistServer(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.EnlistServerRequest
	locator, err := wire.DecodeRequest(req, &hdr)
	if err != nil {
		return nil, err
	}
	replaces := cluster.ServerIdFromUint64(hdr.ReplacesId)
	services := cluster.DeserializeServiceMask(hdr.ServiceMask)

	s.mu.Lock()
	if replaces.IsValid() && s.servers.IsUp(replaces) {
		log.Printf("coordinator: %s is replacing itself; treating the old instance as crashed", replaces)
		s.serverDownLocked(replaces)
	}
	id, err := s.servers.Enlist(services, string(locator), hdr.ReadSpeed)
	if err == nil && services.Has(cluster.MasterService) {
		s.recoveries.Retry()
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("coordinator: enlisted %s at %s offering %s", id, locator, services)
	return okResponse(wire.EnlistServerResponse{ServerId: id.Uint64()}, nil)
}

func (s *Service) getServerList(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.GetServerListRequest
	if _, err := wire.DecodeRequest(req, &hdr); err != nil {
		return nil, err
	}
	list, err := wire.EncodeServerList(s.servers.List(cluster.DeserializeServiceMask(hdr.ServiceMask)))
	if err != nil {
		return nil, err
	}
	return okResponse(wire.GetServerListResponse{ServerListLength: uint32(len(list))}, list)
}

func (s *Service) getTabletMap(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.GetTabletMapRequest
	if _, err := wire.DecodeRequest(req, &hdr); err != nil {
		return nil, err
	}
	m, err := wire.EncodeTabletMap(s.tablets.Snapshot())
	if err != nil {
		return nil, err
	}
	return okResponse(wire.GetTabletMapResponse{TabletMapLength: uint32(len(m))}, m)
}

func (s *Service) hintServerDown(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.HintServerDownRequest
	if _, err := wire.DecodeRequest(req, &hdr); err != nil {
		return nil, err
	}
	id := cluster.ServerIdFromUint64(hdr.ServerId)

	entry, ok := s.servers.Get(id)
	if !ok || entry.Status != cluster.ServerUp {
		return okResponse(nil, nil)
	}
	if s.health != nil {
		if err := s.health.CheckNow(entry); err == nil {
			log.Printf("coordinator: ignoring hint that %s is down; it answered", id)
			return okResponse(nil, nil)
		}
	}
	log.Printf("coordinator: %s confirmed down after a hint", id)
	s.ServerDown(id)
	return okResponse(nil, nil)
}

func (s *Service) reassignTabletOwnership(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.ReassignTabletOwnershipRequest
	if _, err := wire.DecodeRequest(req, &hdr); err != nil {
		return nil, err
	}
	if hdr.FirstKeyHash > hdr.LastKeyHash {
		return nil, fmt.Errorf("%w: empty range [%d, %d]", ErrInvalidParameter, hdr.FirstKeyHash, hdr.LastKeyHash)
	}
	owner := cluster.ServerIdFromUint64(hdr.NewOwnerId)
	ctime := cluster.Ctime{SegmentId: hdr.CtimeSegmentId, SegmentOffset: hdr.CtimeSegmentOffset}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.servers.IsUp(owner) {
		return nil, fmt.Errorf("%w: new owner %s", ErrServerNotUp, owner)
	}
	if err := s.tablets.Reassign(hdr.TableId, hdr.FirstKeyHash, hdr.LastKeyHash, owner, ctime); err != nil {
		return nil, err
	}
	log.Printf("coordinator: table %d [%d, %d] now owned by %s from %d.%d",
		hdr.TableId, hdr.FirstKeyHash, hdr.LastKeyHash, owner, ctime.SegmentId, ctime.SegmentOffset)
	return okResponse(nil, nil)
}

func (s *Service) recoveryMasterFinished(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.RecoveryMasterFinishedRequest
	trailer, err := wire.DecodeRequest(req, &hdr)
	if err != nil {
		return nil, err
	}
	tablets, err := wire.DecodeTabletMap(trailer)
	if err != nil {
		return nil, statusError{wire.StatusRequestFormatError}
	}
	master := cluster.ServerIdFromUint64(hdr.RecoveryMasterId)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recoveries.Finish(hdr.RecoveryId, master, tablets, hdr.Successful != 0); err != nil {
		return nil, err
	}
	return okResponse(nil, nil)
}

func (s *Service) setMasterRecoveryInfo(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.SetMasterRecoveryInfoRequest
	info, err := wire.DecodeRequest(req, &hdr)
	if err != nil {
		return nil, err
	}
	id := cluster.ServerIdFromUint64(hdr.ServerId)
	if err := s.servers.SetRecoveryInfo(id, cluster.RecoveryInfo(info)); err != nil {
		return nil, err
	}
	return okResponse(nil, nil)
}

func (s *Service) verifyMembership(_ context.Context, req []byte) ([]byte, error) {
	var hdr wire.VerifyMembershipRequest
	if _, err := wire.DecodeRequest(req, &hdr); err != nil {
		return nil, err
	}
	id := cluster.ServerIdFromUint64(hdr.ServerId)
	if !s.servers.IsUp(id) {
		log.Printf("coordinator: %s asked about its membership; it is not in the cluster", id)
		return nil, statusError{wire.StatusCallerNotInCluster}
	}
	return okResponse(nil, nil)
}

// ServerDown declares id crashed and starts recovering its tablets. Calling
// it for a server that is not up does nothing. It is the health monitor's
// unhealthy callback.
func (s *Service) ServerDown(id cluster.ServerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverDownLocked(id)
}

func (s *Service) serverDownLocked(id cluster.ServerId) {
	entry, err := s.servers.Crash(id)
	if err != nil {
		return
	}
	log.Printf("coordinator: server %s is down", id)
	if entry.Services.Has(cluster.MasterService) {
		s.recoveries.Start(id)
		return
	}
	s.servers.Remove(id)
}

// CreateTable adds a table split into count tablets spread over the up
// masters.
func (s *Service) CreateTable(name string, count int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owners []cluster.ServerId
	for _, e := range s.servers.List(cluster.NewServiceMask(cluster.MasterService)) {
		owners = append(owners, e.ServerId)
	}
	id, err := s.tablets.CreateTable(name, count, owners)
	if err != nil {
		return 0, err
	}
	log.Printf("coordinator: created table %q (%d) with %d tablets", name, id, count)
	return id, nil
}

// AbandonRecovery fails recovery recoveryId on behalf of master, which never
// got the assignment. Its tablets are handed to the next recovery master.
// A recovery that already finished is left alone.
func (s *Service) AbandonRecovery(recoveryId uint64, master cluster.ServerId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recoveries.Finish(recoveryId, master, nil, false); err != nil && !errors.Is(err, ErrUnknownRecovery) {
		log.Printf("coordinator: abandoning recovery %d: %v", recoveryId, err)
	}
}
