package group

import (
	"crypto/sha1"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/xtaci/smux"
	"golang.org/x/crypto/pbkdf2"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/xtaci/kconv/internal/matrixfile"
)

// netSalt is the domain-specific pbkdf2 salt for the control-plane key, used
// in the same derivation as client/server; the pre-shared secret is never
// sent on the wire, only a pbkdf2-derived AES key.
const netSalt = "kconv-cluster"

// NetConfig describes how a Net group's rank 0 listens and every other rank
// dials, plus the pre-shared secret used to derive the control-plane cipher.
type NetConfig struct {
	// Rank is this participant's index; Rank 0 is the coordinator and
	// listens, all other ranks dial it.
	Rank int
	Size int
	// ListenAddr is used only by rank 0.
	ListenAddr string
	// CoordinatorAddr is used by every non-zero rank to reach rank 0.
	CoordinatorAddr string
	Secret          string
	DataShard       int
	ParityShard     int
}

// Net is the multi-host Group implementation: one OS process per
// participant, coordinating over a kcp-go+smux control plane the way
// kcptun's client/server pair coordinate a tunnel, except here the
// payload carried is barrier/broadcast control messages rather than
// proxied application bytes — the actual matrix data passes through a
// shared filesystem both sides already have mounted, exactly as an
// MPI-IO collective call assumes a shared/parallel filesystem rather
// than shipping bytes through the interconnect by hand.
type Net struct {
	cfg    NetConfig
	sess   *smux.Session
	stream *smux.Stream // single control stream, framed by length-prefixed messages
	ctrl   *controlStream
	closer io.Closer

	// peers holds rank 0's per-participant control streams; nil on
	// non-zero ranks, which only ever talk to rank 0 via sess/stream.
	peers []*netPeer
}

// DialNet establishes rank 0's listener (if Rank==0) or dials rank 0 (every
// other rank), derives the shared AES key via pbkdf2+sha1 the same way
// client/server's key schedule does, and negotiates a single smux stream
// for control traffic.
func DialNet(cfg NetConfig) (*Net, error) {
	pass := pbkdf2.Key([]byte(cfg.Secret), []byte(netSalt), 4096, 32, sha1.New)
	block, err := kcp.NewAESBlockCrypt(pass)
	if err != nil {
		return nil, errors.Wrap(err, "derive control-plane cipher")
	}

	smuxConfig, err := buildControlSmuxConfig()
	if err != nil {
		return nil, errors.Wrap(err, "build control-plane smux config")
	}

	n := &Net{cfg: cfg}

	if cfg.Rank == 0 {
		lis, err := kcp.ListenWithOptions(cfg.ListenAddr, block, cfg.DataShard, cfg.ParityShard)
		if err != nil {
			return nil, errors.Wrapf(err, "listen on %s", cfg.ListenAddr)
		}
		n.closer = lis

		accepted := make(chan acceptResult, cfg.Size-1)
		for i := 0; i < cfg.Size-1; i++ {
			go func() {
				conn, err := lis.AcceptKCP()
				if err != nil {
					accepted <- acceptResult{err: err}
					return
				}
				tuneSession(conn)
				ctrl := newControlStream(conn)
				sess, err := smux.Server(ctrl, smuxConfig)
				if err != nil {
					accepted <- acceptResult{err: err}
					return
				}
				stream, err := sess.AcceptStream()
				if err != nil {
					accepted <- acceptResult{err: err}
					return
				}
				accepted <- acceptResult{sess: sess, stream: stream, ctrl: ctrl}
			}()
		}
		n.peers = make([]*netPeer, 0, cfg.Size-1)
		for i := 0; i < cfg.Size-1; i++ {
			r := <-accepted
			if r.err != nil {
				return nil, errors.Wrap(r.err, "accept peer control connection")
			}
			n.peers = append(n.peers, &netPeer{sess: r.sess, stream: r.stream, ctrl: r.ctrl})
		}
		return n, nil
	}

	conn, err := kcp.DialWithOptions(cfg.CoordinatorAddr, block, cfg.DataShard, cfg.ParityShard)
	if err != nil {
		return nil, errors.Wrapf(err, "dial coordinator at %s", cfg.CoordinatorAddr)
	}
	tuneSession(conn)
	ctrl := newControlStream(conn)
	sess, err := smux.Client(ctrl, smuxConfig)
	if err != nil {
		return nil, errors.Wrap(err, "open smux session to coordinator")
	}
	stream, err := sess.OpenStream()
	if err != nil {
		return nil, errors.Wrap(err, "open control stream to coordinator")
	}
	n.sess = sess
	n.stream = stream
	n.ctrl = ctrl
	return n, nil
}

// buildControlSmuxConfig returns the fixed smux.Config every kconv
// control-plane session uses. A tunnel exposes these as operator-tunable
// throughput knobs because it carries arbitrary proxied traffic; the
// control plane only ever moves small framed dims/kernel/barrier
// messages, so the buffers are fixed rather than surfaced as flags.
func buildControlSmuxConfig() (*smux.Config, error) {
	cfg := smux.DefaultConfig()
	cfg.KeepAliveInterval = 10 * time.Second
	cfg.MaxStreamBuffer = 64 * 1024
	return cfg, smux.VerifyConfig(cfg)
}

type acceptResult struct {
	sess   *smux.Session
	stream *smux.Stream
	ctrl   *controlStream
	err    error
}

type netPeer struct {
	sess   *smux.Session
	stream *smux.Stream
	ctrl   *controlStream
}

func tuneSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 10, 2, 1)
	conn.SetWindowSize(128, 512)
}

func (n *Net) Rank() int { return n.cfg.Rank }
func (n *Net) Size() int { return n.cfg.Size }

// writeFrame sends one control message: a 4-byte big-endian length
// prefix followed by the payload, a framing scheme simple enough to reuse
// across dims, kernel and barrier traffic.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "write frame payload")
		}
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "read frame length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errors.Wrap(err, "read frame payload")
		}
	}
	return payload, nil
}

func encodeDims(d Dims) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:], d.H)
	binary.BigEndian.PutUint32(buf[4:], d.W)
	binary.BigEndian.PutUint32(buf[8:], d.KH)
	binary.BigEndian.PutUint32(buf[12:], d.KW)
	binary.BigEndian.PutUint32(buf[16:], d.SH)
	binary.BigEndian.PutUint32(buf[20:], d.SW)
	return buf
}

func decodeDims(buf []byte) (Dims, error) {
	if len(buf) != 24 {
		return Dims{}, errors.Errorf("group: malformed dims frame, got %d bytes", len(buf))
	}
	return Dims{
		H:  binary.BigEndian.Uint32(buf[0:]),
		W:  binary.BigEndian.Uint32(buf[4:]),
		KH: binary.BigEndian.Uint32(buf[8:]),
		KW: binary.BigEndian.Uint32(buf[12:]),
		SH: binary.BigEndian.Uint32(buf[16:]),
		SW: binary.BigEndian.Uint32(buf[20:]),
	}, nil
}

// BroadcastDims sends rank 0's dims to every peer over its own control
// stream and reads them back unchanged on non-zero ranks.
func (n *Net) BroadcastDims(dims Dims) (Dims, error) {
	if n.cfg.Rank == 0 {
		buf := encodeDims(dims)
		for _, p := range n.peers {
			if err := writeFrame(p.stream, buf); err != nil {
				return Dims{}, err
			}
		}
		return dims, nil
	}

	buf, err := readFrame(n.stream)
	if err != nil {
		return Dims{}, errors.Wrap(err, "receive dims from coordinator")
	}
	return decodeDims(buf)
}

// BroadcastKernel sends rank 0's kernel bytes (as raw big-endian
// float32) to every peer and fingerprint-verifies what each non-zero rank
// reads back, enforcing kernel agreement across an actual network hop rather
// than defensively within shared memory as group.Local does.
func (n *Net) BroadcastKernel(kernel []float32) ([]float32, error) {
	if n.cfg.Rank == 0 {
		buf := make([]byte, len(kernel)*4)
		for i, v := range kernel {
			binary.BigEndian.PutUint32(buf[i*4:], uint32frombits(v))
		}
		digest := kernelFingerprint(kernel)
		for _, p := range n.peers {
			if err := writeFrame(p.stream, buf); err != nil {
				return nil, err
			}
			if err := writeFrame(p.stream, digest[:]); err != nil {
				return nil, err
			}
		}
		return kernel, nil
	}

	buf, err := readFrame(n.stream)
	if err != nil {
		return nil, errors.Wrap(err, "receive kernel from coordinator")
	}
	if len(buf)%4 != 0 {
		return nil, errors.Errorf("group: malformed kernel frame, %d bytes", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}

	digestBuf, err := readFrame(n.stream)
	if err != nil {
		return nil, errors.Wrap(err, "receive kernel fingerprint from coordinator")
	}
	if len(digestBuf) != sha1.Size {
		return nil, errors.Errorf("group: malformed kernel fingerprint frame, %d bytes", len(digestBuf))
	}
	var want [sha1.Size]byte
	copy(want[:], digestBuf)
	if err := verifyKernelFingerprint(out, want); err != nil {
		return nil, err
	}
	return out, nil
}

// Barrier exchanges a marker frame holding the phase name with every peer and waits for
// all of them before returning, giving every rank the same rendezvous
// semantics group.Local's cyclicBarrier gives in-process.
func (n *Net) Barrier(phase string) error {
	marker := []byte(phase)
	if n.cfg.Rank == 0 {
		for _, p := range n.peers {
			if err := writeFrame(p.stream, marker); err != nil {
				return err
			}
		}
		for _, p := range n.peers {
			if _, err := readFrame(p.stream); err != nil {
				return errors.Wrap(err, "await peer barrier ack")
			}
		}
		for _, p := range n.peers {
			if err := writeFrame(p.stream, marker); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := readFrame(n.stream); err != nil {
		return errors.Wrap(err, "await coordinator barrier signal")
	}
	if err := writeFrame(n.stream, marker); err != nil {
		return err
	}
	if _, err := readFrame(n.stream); err != nil {
		return errors.Wrap(err, "await coordinator barrier release")
	}
	return nil
}

// OpenInput and CreateOrOpenOutput assume every participant's filesystem is
// the same shared filesystem (NFS, Lustre, etc): exactly the assumption
// MPI-IO's collective I/O calls make, and the reason Net never proxies
// matrix bytes over the control plane.
func (n *Net) OpenInput(path string) (*matrixfile.File, error) {
	return matrixfile.OpenRead(path)
}

func (n *Net) CreateOrOpenOutput(path string, h, w uint32, isCreator bool) (*matrixfile.File, error) {
	if isCreator {
		f, createErr := matrixfile.Create(path, h, w)
		if err := n.Barrier("output-created"); err != nil {
			return nil, err
		}
		return f, createErr
	}

	if err := n.Barrier("output-created"); err != nil {
		return nil, err
	}
	return matrixfile.OpenReadWrite(path)
}

// Close tears down the control plane and reports the control-plane byte
// footprint, the same way the CLI entrypoints print operator-facing
// status lines with color.
func (n *Net) Close() error {
	if n.cfg.Rank == 0 {
		var totalOut, totalIn uint64
		for _, p := range n.peers {
			totalOut += p.ctrl.bytesOut
			totalIn += p.ctrl.bytesIn
			p.sess.Close()
		}
		color.Cyan("group: control plane moved %d bytes out, %d bytes in across %d peers", totalOut, totalIn, len(n.peers))
		if n.closer != nil {
			return n.closer.Close()
		}
		return nil
	}
	color.Cyan("group: control plane moved %d bytes out, %d bytes in", n.ctrl.bytesOut, n.ctrl.bytesIn)
	return n.sess.Close()
}

func uint32frombits(v float32) uint32 {
	return math.Float32bits(v)
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
