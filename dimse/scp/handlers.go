package scp

import (
	"context"

	"github.com/radxtoolkit/radx/dicom"
	"github.com/radxtoolkit/radx/dimse/dimse"
)

// DefaultEchoHandler provides a simple C-ECHO handler that always returns success
type DefaultEchoHandler struct{}

// HandleEcho implements EchoHandler
func (h *DefaultEchoHandler) HandleEcho(ctx context.Context, req *EchoRequest) *EchoResponse {
	return &EchoResponse{
		Status: dimse.StatusSuccess,
	}
}

// NewDefaultEchoHandler creates a new default echo handler
func NewDefaultEchoHandler() *DefaultEchoHandler {
	return &DefaultEchoHandler{}
}

// EchoHandlerFunc is a function adapter for EchoHandler
type EchoHandlerFunc func(ctx context.Context, req *EchoRequest) *EchoResponse

// HandleEcho implements EchoHandler
func (f EchoHandlerFunc) HandleEcho(ctx context.Context, req *EchoRequest) *EchoResponse {
	return f(ctx, req)
}

// StoreHandlerFunc is a function adapter for StoreHandler
type StoreHandlerFunc func(ctx context.Context, req *StoreRequest) *StoreResponse

// HandleStore implements StoreHandler
func (f StoreHandlerFunc) HandleStore(ctx context.Context, req *StoreRequest) *StoreResponse {
	return f(ctx, req)
}

// FindHandlerFunc is a function adapter for FindHandler
type FindHandlerFunc func(ctx context.Context, req *FindRequest) *FindResponse

// HandleFind implements FindHandler
func (f FindHandlerFunc) HandleFind(ctx context.Context, req *FindRequest) *FindResponse {
	return f(ctx, req)
}

// GetHandlerFunc is a function adapter for GetHandler
type GetHandlerFunc func(ctx context.Context, req *GetRequest) *GetResponse

// HandleGet implements GetHandler
func (f GetHandlerFunc) HandleGet(ctx context.Context, req *GetRequest) *GetResponse {
	return f(ctx, req)
}

// MoveHandlerFunc is a function adapter for MoveHandler
type MoveHandlerFunc func(ctx context.Context, req *MoveRequest) *MoveResponse

// HandleMove implements MoveHandler
func (f MoveHandlerFunc) HandleMove(ctx context.Context, req *MoveRequest) *MoveResponse {
	return f(ctx, req)
}

// StoreMeta carries the identifying attributes of a C-STORE sub-operation,
// pulled off the command set rather than the dataset itself since a peer may
// legally omit them from the dataset when they're already on the command.
type StoreMeta struct {
	CallingAE      string
	CalledAE       string
	SOPClassUID    string
	SOPInstanceUID string
}

// Provider is a single implementation point for a DICOM node's application
// entity behavior, as an alternative to wiring EchoHandler/FindHandler/
// GetHandler/StoreHandler individually. A Config with Provider set adapts it
// into the four granular handlers via providerEchoHandler etc., so a node
// that answers verification, query, and storage through one object doesn't
// need four separate types.
type Provider interface {
	// Verify answers a C-ECHO. A non-nil error fails verification.
	Verify(ctx context.Context) error

	// Query answers a C-FIND or a C-GET/C-MOVE's matching phase. level is
	// the query/retrieve level read from the identifier's (0008,0052)
	// attribute when present (see TagQueryRetrieveLevel), or "" when absent.
	// yield is called once per match in priority order; Query stops early
	// and returns nil as soon as yield returns false.
	Query(ctx context.Context, level string, identifier *dicom.DataSet, yield func(*dicom.DataSet) bool) error

	// Store persists one instance of a C-STORE sub-operation, returning the
	// DIMSE status to report back to the peer.
	Store(ctx context.Context, meta StoreMeta, ds *dicom.DataSet) (status uint16, err error)
}

// providerEchoHandler adapts a Provider into an EchoHandler.
type providerEchoHandler struct{ p Provider }

func (h providerEchoHandler) HandleEcho(ctx context.Context, req *EchoRequest) *EchoResponse {
	if err := h.p.Verify(ctx); err != nil {
		return &EchoResponse{Status: dimse.StatusProcessingFailure}
	}
	return &EchoResponse{Status: dimse.StatusSuccess}
}

// providerStoreHandler adapts a Provider into a StoreHandler.
type providerStoreHandler struct{ p Provider }

func (h providerStoreHandler) HandleStore(ctx context.Context, req *StoreRequest) *StoreResponse {
	meta := StoreMeta{
		CallingAE:      req.CallingAE,
		CalledAE:       req.CalledAE,
		SOPClassUID:    req.SOPClassUID,
		SOPInstanceUID: req.SOPInstanceUID,
	}
	status, err := h.p.Store(ctx, meta, req.DataSet)
	if err != nil {
		return &StoreResponse{Status: dimse.StatusProcessingFailure}
	}
	return &StoreResponse{Status: status}
}

// providerFindHandler adapts a Provider into a FindHandler.
type providerFindHandler struct{ p Provider }

func (h providerFindHandler) HandleFind(ctx context.Context, req *FindRequest) *FindResponse {
	var results []*dicom.DataSet
	level := queryRetrieveLevel(req.Query)
	err := h.p.Query(ctx, level, req.Query, func(ds *dicom.DataSet) bool {
		results = append(results, ds)
		return true
	})
	if err != nil {
		return &FindResponse{Status: dimse.StatusProcessingFailure}
	}
	return &FindResponse{Results: results, Status: dimse.StatusSuccess}
}

// providerGetHandler adapts a Provider into a GetHandler.
type providerGetHandler struct{ p Provider }

func (h providerGetHandler) HandleGet(ctx context.Context, req *GetRequest) *GetResponse {
	var instances []*dicom.DataSet
	level := queryRetrieveLevel(req.Query)
	err := h.p.Query(ctx, level, req.Query, func(ds *dicom.DataSet) bool {
		instances = append(instances, ds)
		return true
	})
	if err != nil {
		return &GetResponse{Status: dimse.StatusProcessingFailure}
	}
	return &GetResponse{Instances: instances, Status: dimse.StatusSuccess}
}
