/*Package comm provides the line-oriented transport used to talk to lab hardware.

A RemoteDevice owns one connection, serial (RS232 through github.com/tarm/serial)
or TCP (a terminal server port), and exchanges one command for one response
line at a time.  It satisfies the CommandChannel interface of the drive
packages:

	rd := comm.NewRemoteDevice("/dev/ttyUSB0", true, comm.MakeSerConf("/dev/ttyUSB0", 9600, time.Second))
	rd.Timeout = time.Second
	resp, err := rd.Send("g r0xa0\r\n")

The command is written as given; framing (prefixes, terminators) belongs to the
caller.  The response is returned without its receipt terminator.
*/
package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	// DefaultRxTerminator ends every response line
	DefaultRxTerminator = byte('\n')

	// DefaultTimeout bounds the wait for a response line
	DefaultTimeout = 1 * time.Second
)

var (
	// ErrNoSerialConf is generated when IsSerial is true but no serial.Config was given
	ErrNoSerialConf = errors.New("remote device is serial but has no serial.Config")

	// ErrNotConnected is generated when Conn is nil and a read is attempted
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTimeout is generated when no terminator arrives within Timeout.
	// It reports Timeout() == true, like a net.Error.
	ErrTimeout error = timeoutError{}
)

type timeoutError struct{}

func (timeoutError) Error() string { return "no terminator received before the read timeout" }
func (timeoutError) Timeout() bool { return true }

// Logger receives every transmitted command and every received line.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

/*RemoteDevice has an address and a connection to the hardware at that address.

Send may be called from more than one goroutine; exchanges are serialized so
only one request is ever in flight.
*/
type RemoteDevice struct {
	mu sync.Mutex

	Addr     string
	IsSerial bool

	// Timeout bounds the wait for one response line
	Timeout time.Duration

	// RxTerminator ends a response line, it is stripped before returning
	RxTerminator byte

	// Audit, if not nil, is given every command and response verbatim
	Audit Logger

	Conn io.ReadWriteCloser

	serCfg  *serial.Config
	limiter *rate.Limiter
}

// NewRemoteDevice creates a new RemoteDevice instance.  serCfg is only used when
// isSerial is true.
func NewRemoteDevice(addr string, isSerial bool, serCfg *serial.Config) *RemoteDevice {
	return &RemoteDevice{
		Addr:         addr,
		IsSerial:     isSerial,
		Timeout:      DefaultTimeout,
		RxTerminator: DefaultRxTerminator,
		serCfg:       serCfg}
}

// MakeSerConf makes a new serial.Config with 8N1 framing at the given baud.
// The read timeout is the granularity of the line reader's deadline checks,
// not the response timeout.
func MakeSerConf(addr string, baud int, readTimeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout}
}

// SetSpacing enforces a minimum delay between commands.  Zero disables it.
func (rd *RemoteDevice) SetSpacing(d time.Duration) {
	if d <= 0 {
		rd.limiter = nil
		return
	}
	rd.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// terminal servers and USB adapters both take a moment to let go of a
	// port that was just closed, so retry with an exponential backoff
	op := func() error {
		err := rd.open()
		if err == nil {
			return nil
		}
		errS := strings.ToLower(err.Error())
		if strings.Contains(errS, "refused") || os.IsNotExist(err) || err == ErrNoSerialConf {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// Send writes cmd as-is and returns the next response line with the Rx
// terminator stripped.  The connection is opened on first use.
func (rd *RemoteDevice) Send(cmd string) (string, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		if err := rd.Open(); err != nil {
			return "", err
		}
	}
	if rd.limiter != nil {
		// Background never cancels, Wait only errors on a zero burst
		_ = rd.limiter.Wait(context.Background())
	}
	rd.audit("txmt::%s", cmd)
	if _, err := io.WriteString(rd.Conn, cmd); err != nil {
		rd.audit("txmt::error %v", err)
		return "", err
	}
	resp, err := rd.readLine()
	if err != nil {
		rd.audit("rcvd::error %v", err)
		return "", err
	}
	rd.audit("rcvd::%s", resp)
	return resp, nil
}

func (rd *RemoteDevice) audit(format string, v ...interface{}) {
	if rd.Audit != nil {
		rd.Audit.Printf(format, v...)
	}
}

// readLine reads until the Rx terminator or the deadline, whichever is first
func (rd *RemoteDevice) readLine() (string, error) {
	if rd.Conn == nil {
		return "", ErrNotConnected
	}
	timeout := rd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if nc, ok := rd.Conn.(net.Conn); ok {
		nc.SetReadDeadline(deadline)
	}
	var (
		line  []byte
		chunk = make([]byte, 64)
	)
	for {
		n, err := rd.Conn.Read(chunk)
		line = append(line, chunk[:n]...)
		if idx := bytes.IndexByte(line, rd.RxTerminator); idx >= 0 {
			// one line per command; anything past the terminator is stale
			return string(line[:idx]), nil
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", ErrTimeout
			}
			// a serial port with VMIN=0 reports EOF when its read timeout
			// lapses with nothing received; keep waiting for the deadline
			if err != io.EOF || !rd.IsSerial {
				return "", err
			}
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
	}
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
