package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// op names the registry operation a Request invokes. The registry is
// "accessed via a transparent proxy" (spec §4.1); Server is that proxy's
// receiving end, Client its sending end, and both exchange Request/Response
// values over a transport.Conn exactly as any other fabric user would.
type op string

const (
	opRegister           op = "register"
	opFindByID           op = "find_by_id"
	opFindByName         op = "find_by_name"
	opFindAll            op = "find_all"
	opFindAllByCategory  op = "find_all_by_category"
	opFindAllByStatus    op = "find_all_by_status"
	opFindAllByState     op = "find_all_by_state"
	opUpdateStatus       op = "update_status"
	opUpdateLocalState   op = "update_local_state"
	opUpdateGlobalState  op = "update_global_state"
	opCurrentGlobalState op = "current_global_state"
	opCurrentGlobalStat  op = "current_global_status"
	opSystemUptime       op = "system_uptime"
	opStop               op = "stop"
)

// Request is one registry call, serialized across the fabric. Only the
// fields relevant to Op are populated.
type Request struct {
	Op         op                       `json:"op"`
	Descriptor *types.ServiceDescriptor `json:"descriptor,omitempty"`
	ID         string                   `json:"id,omitempty"`
	Name       string                   `json:"name,omitempty"`
	Category   types.Category           `json:"category,omitempty"`
	Status     types.Status             `json:"status,omitempty"`
	State      types.LocalState         `json:"state,omitempty"`
	Command    types.SteeringCommand    `json:"command,omitempty"`
}

// Response is the Server's reply to one Request. Error is non-empty
// exactly when the operation failed; none of these failures propagate as
// an abnormal termination across the proxy boundary (spec §4.1).
type Response struct {
	Error       string                     `json:"error,omitempty"`
	Descriptor  *types.ServiceDescriptor   `json:"descriptor,omitempty"`
	Descriptors []*types.ServiceDescriptor `json:"descriptors,omitempty"`
	GlobalState types.LocalState           `json:"global_state,omitempty"`
	Status      types.Status               `json:"status,omitempty"`
	Uptime      time.Duration              `json:"uptime,omitempty"`
}

// Server serves a Registry's operations to other processes over a
// transport.Listener, dispatching requests sequentially per connection —
// the "single-threaded per request" proxy spec §4.1 describes.
type Server struct {
	registry *Registry
	listener transport.Listener
	stopCh   chan struct{}
}

// Serve accepts connections on ln and dispatches requests against registry
// until ctx is canceled or Close is called. The accept loop runs in its own
// goroutine; Serve returns immediately.
func Serve(ctx context.Context, registry *Registry, ln transport.Listener) *Server {
	s := &Server{registry: registry, listener: ln, stopCh: make(chan struct{})}
	go s.acceptLoop(ctx)
	return s
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
				log.Errorf("registry server: accept", err)
				return
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()
	for {
		var req Request
		if err := conn.Receive(ctx, &req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := conn.Send(ctx, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Op {
	case opRegister:
		if err := s.registry.Register(req.Descriptor); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	case opFindByID:
		d, err := s.registry.FindByID(req.ID)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Descriptor: d}

	case opFindByName:
		d, err := s.registry.FindByName(req.Name)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Descriptor: d}

	case opFindAll:
		return Response{Descriptors: s.registry.FindAll()}

	case opFindAllByCategory:
		return Response{Descriptors: s.registry.FindAllByCategory(req.Category)}

	case opFindAllByStatus:
		return Response{Descriptors: s.registry.FindAllByStatus(req.Status)}

	case opFindAllByState:
		return Response{Descriptors: s.registry.FindAllByState(req.State)}

	case opUpdateStatus:
		if err := s.registry.UpdateStatus(req.ID, req.Status); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	case opUpdateLocalState:
		d, err := s.registry.UpdateLocalState(req.ID, req.Command)
		if err != nil {
			return Response{Error: err.Error(), Descriptor: d}
		}
		return Response{Descriptor: d}

	case opUpdateGlobalState:
		if err := s.registry.UpdateGlobalState(); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{GlobalState: s.registry.CurrentGlobalState()}

	case opCurrentGlobalState:
		return Response{GlobalState: s.registry.CurrentGlobalState()}

	case opCurrentGlobalStat:
		return Response{Status: s.registry.CurrentGlobalStatus()}

	case opSystemUptime:
		return Response{Uptime: s.registry.SystemUptime()}

	case opStop:
		if err := s.registry.Stop(); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	default:
		return Response{Error: fmt.Sprintf("registry server: unknown op %q", req.Op)}
	}
}

// Close stops the accept loop and the underlying listener.
func (s *Server) Close() error {
	close(s.stopCh)
	return s.listener.Close()
}

// Client is a thin proxy to a remote Registry's operations, dialed once
// and reused for the lifetime of the owning component.
type Client struct {
	conn transport.Conn
}

// Dial connects to a Server already listening at address over fabric.
func Dial(ctx context.Context, fabric transport.Fabric, address string) (*Client, error) {
	conn, err := fabric.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("registry client: dial %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	if err := c.conn.Send(ctx, req); err != nil {
		return Response{}, fmt.Errorf("registry client: send: %w", err)
	}
	var resp Response
	if err := c.conn.Receive(ctx, &resp); err != nil {
		return Response{}, fmt.Errorf("registry client: receive: %w", err)
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, d *types.ServiceDescriptor) error {
	resp, err := c.call(ctx, Request{Op: opRegister, Descriptor: d})
	if err != nil {
		return err
	}
	return respErr(resp)
}

func (c *Client) FindByID(ctx context.Context, id string) (*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opFindByID, ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Descriptor, respErr(resp)
}

func (c *Client) FindByName(ctx context.Context, name string) (*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opFindByName, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Descriptor, respErr(resp)
}

func (c *Client) FindAll(ctx context.Context) ([]*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opFindAll})
	if err != nil {
		return nil, err
	}
	return resp.Descriptors, respErr(resp)
}

func (c *Client) FindAllByCategory(ctx context.Context, category types.Category) ([]*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opFindAllByCategory, Category: category})
	if err != nil {
		return nil, err
	}
	return resp.Descriptors, respErr(resp)
}

func (c *Client) FindAllByStatus(ctx context.Context, status types.Status) ([]*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opFindAllByStatus, Status: status})
	if err != nil {
		return nil, err
	}
	return resp.Descriptors, respErr(resp)
}

func (c *Client) FindAllByState(ctx context.Context, state types.LocalState) ([]*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opFindAllByState, State: state})
	if err != nil {
		return nil, err
	}
	return resp.Descriptors, respErr(resp)
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	resp, err := c.call(ctx, Request{Op: opUpdateStatus, ID: id, Status: status})
	if err != nil {
		return err
	}
	return respErr(resp)
}

func (c *Client) UpdateLocalState(ctx context.Context, id string, command types.SteeringCommand) (*types.ServiceDescriptor, error) {
	resp, err := c.call(ctx, Request{Op: opUpdateLocalState, ID: id, Command: command})
	if err != nil {
		return nil, err
	}
	return resp.Descriptor, respErr(resp)
}

func (c *Client) UpdateGlobalState(ctx context.Context) (types.LocalState, error) {
	resp, err := c.call(ctx, Request{Op: opUpdateGlobalState})
	if err != nil {
		return "", err
	}
	return resp.GlobalState, respErr(resp)
}

func (c *Client) CurrentGlobalState(ctx context.Context) (types.LocalState, error) {
	resp, err := c.call(ctx, Request{Op: opCurrentGlobalState})
	if err != nil {
		return "", err
	}
	return resp.GlobalState, respErr(resp)
}

func (c *Client) CurrentGlobalStatus(ctx context.Context) (types.Status, error) {
	resp, err := c.call(ctx, Request{Op: opCurrentGlobalStat})
	if err != nil {
		return "", err
	}
	return resp.Status, respErr(resp)
}

func (c *Client) SystemUptime(ctx context.Context) (time.Duration, error) {
	resp, err := c.call(ctx, Request{Op: opSystemUptime})
	if err != nil {
		return 0, err
	}
	return resp.Uptime, respErr(resp)
}

func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.call(ctx, Request{Op: opStop})
	if err != nil {
		return err
	}
	return respErr(resp)
}

func (c *Client) Close() error { return c.conn.Close() }

func respErr(resp Response) error {
	if resp.Error != "" {
		return fmt.Errorf("registry: %s", resp.Error)
	}
	return nil
}
