// Package quictransport is the QUIC front door: it terminates TLS-over-QUIC
// connections, reads the minimal per-stream header/body framing defined in
// codec.go, and drives one internal/proxystream.Stream per accepted QUIC
// stream. It is the real collaborator internal/quic/server.go's mock stood
// in for before this proxy had an actual transport.
package quictransport

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"quicproxy/internal/fetcher"
	"quicproxy/internal/logging"
	"quicproxy/internal/proxystream"
	"quicproxy/internal/stats"
	"quicproxy/internal/translator"
)

// Server listens for QUIC connections and fans their streams out to the
// proxy's request pipeline.
type Server struct {
	cfg           Config
	registry      *fetcher.Registry
	translatorCfg translator.Config
	stats         *stats.Accumulator
	logger        *logging.Logger

	listener     *quic.Listener
	nextStreamID atomic.Uint64
}

// NewServer wires the transport to the pipeline components cmd/proxy builds
// at startup: the fetcher registry, the translator's backend configuration,
// the per-process stats accumulator, and the structured logger.
func NewServer(cfg Config, registry *fetcher.Registry, translatorCfg translator.Config, acc *stats.Accumulator, logger *logging.Logger) *Server {
	return &Server{
		cfg:           cfg,
		registry:      registry,
		translatorCfg: translatorCfg,
		stats:         acc,
		logger:        logger,
	}
}

// ListenAndServe binds the QUIC listener and accepts connections until ctx
// is cancelled. It blocks; callers typically run it in its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConf, err := s.cfg.tlsConfig()
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(s.cfg.addr(), tlsConf, s.cfg.quicGoConfig())
	if err != nil {
		return err
	}
	s.listener = listener

	if s.logger != nil {
		s.logger.Info("quic listener started", "addr", s.cfg.addr())
	}

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConnection(ctx, conn)
	}
}

// Close shuts the listener down, aborting Accept in ListenAndServe.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConnection(ctx context.Context, conn quic.Connection) {
	peer := peerHost(conn.RemoteAddr())
	connID := uuid.NewString()
	if s.logger != nil {
		s.logger.Info("quic connection accepted", "connection_id", connID, "peer", peer)
	}
	for {
		qs, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(ctx, qs, peer, connID)
	}
}

// serveStream reads exactly one leading HEADERS frame, hands it to a fresh
// proxystream.Stream, then feeds any DATA frames that follow until the
// stream closes or the peer resets it. One QUIC stream always carries one
// request, per spec.md §2's "each QUIC stream carries exactly one HTTP
// request/response pair".
func (s *Server) serveStream(ctx context.Context, qs quic.Stream, peer string, connID string) {
	id := s.nextStreamID.Add(1)
	if s.logger != nil {
		s.logger.Debug("quic stream accepted", "connection_id", connID, "stream_id", id)
	}
	downstream := newQUICDownstream(qs)
	stream := proxystream.New(id, peer, downstream, s.registry, s.translatorCfg, s.stats, s.logger, ctx, s.cfg.StreamDeadline)

	kind, payload, fin, err := readFrame(qs)
	if err != nil {
		qs.CancelRead(quic.StreamErrorCode(0))
		qs.CancelWrite(quic.StreamErrorCode(0))
		return
	}
	if kind != frameHeaders {
		stream.SendErrorResponse(400, "expected a headers frame first")
		return
	}

	headers, err := decodeHeaders(payload)
	if err != nil {
		stream.SendErrorResponse(400, "malformed header block")
		return
	}
	stream.OnHeaderAvailable(headers, fin)

	var received int64
	for !fin && stream.State() != proxystream.Closed {
		var dkind frameKind
		var data []byte
		dkind, data, fin, err = readFrame(qs)
		if err != nil {
			stream.OnPeerReset()
			return
		}
		if dkind != frameData {
			// A second HEADERS frame on the request side is trailers, which
			// spec.md §4.1 treats as an error rather than silently dropping
			// (dropping it would also swallow its fin, leaving the stream
			// stuck in AwaitingBody forever).
			stream.SendErrorResponse(500, "trailer headers are not supported")
			return
		}
		received += int64(len(data))
		if s.cfg.MaxRequestBodyBytes > 0 && received > s.cfg.MaxRequestBodyBytes {
			stream.SendErrorResponse(413, "request body exceeds the configured limit")
			return
		}
		stream.OnContentAvailable(data, fin)
	}
}

func peerHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
