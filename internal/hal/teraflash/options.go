package teraflash

import "time"

const (
	DefaultCommandPort  = 61234
	DefaultReceivePort  = 61235
	DefaultTransmitPort = 61237
	DefaultTracePort    = 6007

	DefaultTimeout      = 15 * time.Second
	DefaultProbeTimeout = time.Second
	DefaultPollInterval = 100 * time.Millisecond

	maxPayloadLength = 10_000_000
	lengthDigits     = 6
	datagramSize     = 1024
)

type options struct {
	timeout      time.Duration
	probeTimeout time.Duration
	pollInterval time.Duration
	channel      int
	localAddr    string
	commandPort  int
	receivePort  int
	transmitPort int
	tracePort    int
}

func defaultOptions() options {
	return options{
		timeout:      DefaultTimeout,
		probeTimeout: DefaultProbeTimeout,
		pollInterval: DefaultPollInterval,
		channel:      1,
		commandPort:  DefaultCommandPort,
		receivePort:  DefaultReceivePort,
		transmitPort: DefaultTransmitPort,
		tracePort:    DefaultTracePort,
	}
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the reply and trace transfer timeout. It is also the
// floor of the averaging timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithProbeTimeout sets the timeout of the RD-RUN probe made on connect.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithPollInterval sets how often RD-WAIT is polled while averaging.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithChannel selects the emitter/detector channel (1 or 2). Invalid
// values are ignored; use SetChannel to get an error.
func WithChannel(ch int) Option {
	return func(o *options) {
		if ch == 1 || ch == 2 {
			o.channel = ch
		}
	}
}

// WithLocalAddr sets the local IP the UDP sockets bind to. The default
// binds all interfaces.
func WithLocalAddr(addr string) Option {
	return func(o *options) {
		o.localAddr = addr
	}
}

// WithPorts overrides the UDP command, receive and transmit ports and the
// TCP trace port. Zero keeps the default.
func WithPorts(command, receive, transmit, trace int) Option {
	return func(o *options) {
		if command > 0 {
			o.commandPort = command
		}
		if receive > 0 {
			o.receivePort = receive
		}
		if transmit > 0 {
			o.transmitPort = transmit
		}
		if trace > 0 {
			o.tracePort = trace
		}
	}
}
