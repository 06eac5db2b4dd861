package node

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/fedchain"
	"go.dedis.ch/fedchain/cli"
	"golang.org/x/xerrors"
)

// SocketName is the name of the socket file in the configuration folder.
const SocketName = "daemon.sock"

const ioTimeout = 30 * time.Second

// event is a message of the daemon to the client, encoded in JSON. The client
// prints the value, or fails with it when it is an error.
type event struct {
	Err   bool
	Value string
}

// socketClient sends a command to the daemon through its UNIX socket.
//
// - implements node.Client
type socketClient struct {
	socketpath  string
	out         io.Writer
	dialTimeout time.Duration
	dialFn      func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// Send implements node.Client. It writes the command and prints the events of
// the daemon until the connection is closed.
func (c socketClient) Send(data []byte) error {
	conn, err := c.dialFn("unix", c.socketpath, c.dialTimeout)
	if err != nil {
		return xerrors.Errorf("couldn't open connection: %v", err)
	}

	defer conn.Close()

	_, err = conn.Write(data)
	if err != nil {
		return xerrors.Errorf("couldn't write to daemon: %v", err)
	}

	dec := json.NewDecoder(conn)

	for {
		var evt event

		err = dec.Decode(&evt)
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return xerrors.Errorf("failed to decode event: %v", err)
		}

		if evt.Err {
			return xerrors.New(evt.Value)
		}

		fmt.Fprint(c.out, evt.Value)
	}
}

// socketDaemon listens on a UNIX socket for the commands of the CLI. The
// permissions of the socket file restrict who can control the process.
//
// - implements node.Daemon
type socketDaemon struct {
	sync.WaitGroup

	logger      zerolog.Logger
	socketpath  string
	injector    Injector
	actions     *actionMap
	closing     chan struct{}
	readTimeout time.Duration
	listenFn    func(network, addr string) (net.Listener, error)
}

// Listen implements node.Daemon. It creates the socket file, replacing a stale
// one left by a previous run, and handles the connections in the background.
func (d *socketDaemon) Listen() error {
	_ = os.Remove(d.socketpath)

	socket, err := d.listenFn("unix", d.socketpath)
	if err != nil {
		return xerrors.Errorf("couldn't bind socket: %v", err)
	}

	d.Add(2)

	go func() {
		defer d.Done()

		<-d.closing
		socket.Close()
	}()

	go func() {
		defer d.Done()

		for {
			conn, err := socket.Accept()
			if err != nil {
				select {
				case <-d.closing:
				default:
					d.logger.Err(err).Msg("daemon closed unexpectedly")
				}

				return
			}

			go d.handleConn(conn)
		}
	}()

	return nil
}

func (d *socketDaemon) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(d.readTimeout))

	header := make([]byte, 2)

	_, err := io.ReadFull(conn, header)
	if err == io.EOF {
		// The connection is closed upfront when the availability of the
		// daemon is tested.
		return
	}

	if err != nil {
		d.sendError(conn, xerrors.Errorf("stream corrupted: %v", err))
		return
	}

	fset := make(FlagSet)

	err = json.NewDecoder(conn).Decode(&fset)
	if err != nil {
		d.sendError(conn, xerrors.Errorf("failed to decode flags: %v", err))
		return
	}

	id := binary.LittleEndian.Uint16(header)

	d.logger.Debug().Uint16("action", id).Msg("received command on the daemon")

	action := d.actions.Get(id)
	if action == nil {
		d.sendError(conn, xerrors.Errorf("unknown command '%d'", id))
		return
	}

	// Long running commands are not bounded by the read deadline.
	conn.SetReadDeadline(time.Time{})

	actx := Context{
		Injector: d.injector,
		Flags:    fset,
		Out:      newClientWriter(conn),
	}

	err = action.Execute(actx)
	if err != nil {
		d.sendError(conn, xerrors.Errorf("command error: %v", err))
	}
}

func (d *socketDaemon) sendError(conn net.Conn, err error) {
	d.logger.Debug().Err(err).Msg("sending error to client")

	err = json.NewEncoder(conn).Encode(event{Err: true, Value: err.Error()})
	if err != nil {
		d.logger.Warn().Err(err).Msg("connection to client has error")
	}
}

// Close implements node.Daemon. It closes the socket and waits for the
// listener to stop.
func (d *socketDaemon) Close() error {
	close(d.closing)
	d.Wait()

	return nil
}

// clientWriter wraps the output of an action into events.
//
// - implements io.Writer
type clientWriter struct {
	sync.Mutex
	enc *json.Encoder
}

func newClientWriter(w io.Writer) *clientWriter {
	return &clientWriter{
		enc: json.NewEncoder(w),
	}
}

// Write implements io.Writer.
func (w *clientWriter) Write(data []byte) (int, error) {
	w.Lock()
	defer w.Unlock()

	err := w.enc.Encode(event{Value: string(data)})
	if err != nil {
		return 0, xerrors.Errorf("while packing data: %v", err)
	}

	return len(data), nil
}

// socketFactory creates the daemon and the clients from the configuration
// folder.
//
// - implements node.DaemonFactory
type socketFactory struct {
	injector Injector
	actions  *actionMap
	out      io.Writer
}

// ClientFromContext implements node.DaemonFactory.
func (f socketFactory) ClientFromContext(flags cli.Flags) (Client, error) {
	client := socketClient{
		socketpath:  socketPath(flags),
		out:         f.out,
		dialTimeout: ioTimeout,
		dialFn:      net.DialTimeout,
	}

	return client, nil
}

// DaemonFromContext implements node.DaemonFactory.
func (f socketFactory) DaemonFromContext(flags cli.Flags) (Daemon, error) {
	path := socketPath(flags)

	daemon := &socketDaemon{
		logger:      fedchain.Logger.With().Str("daemon", path).Logger(),
		socketpath:  path,
		injector:    f.injector,
		actions:     f.actions,
		closing:     make(chan struct{}),
		readTimeout: ioTimeout,
		listenFn:    net.Listen,
	}

	return daemon, nil
}

func socketPath(flags cli.Flags) string {
	return filepath.Join(flags.Path(ConfigFlag), SocketName)
}
