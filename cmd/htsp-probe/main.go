// Command htsp-probe exercises connect/authenticate/subscribe/stats/
// unsubscribe/close end to end against a live HTSP server, in the
// teacher's own urfave/cli idiom (cli.NewApp, a flat command list, a
// dedicated Action per command) scaled down from cmd/cli/cli/app.go to
// the handful of flags this probe actually needs.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli"

	"github.com/cyberjacob/android-htsp/auth"
	"github.com/cyberjacob/android-htsp/conn"
	"github.com/cyberjacob/android-htsp/htsp"
	"github.com/cyberjacob/android-htsp/internal/nlog"
	"github.com/cyberjacob/android-htsp/subscription"
	"github.com/cyberjacob/android-htsp/wire"
)

const cliName = "htsp-probe"

var (
	hostnameFlag = cli.StringFlag{Name: "host", Usage: "HTSP server hostname or IP", Value: "localhost"}
	portFlag     = cli.IntFlag{Name: "port", Usage: "HTSP server port", Value: 9982}
	usernameFlag = cli.StringFlag{Name: "user", Usage: "username"}
	passwordFlag = cli.StringFlag{Name: "pass", Usage: "password"}
	channelFlag  = cli.Int64Flag{Name: "channel", Usage: "channelId to subscribe to", Value: 1}
	durationFlag = cli.DurationFlag{Name: "duration", Usage: "how long to stay subscribed", Value: 30 * time.Second}
)

func main() {
	app := cli.NewApp()
	app.Name = cliName
	app.Usage = "connect to an HTSP server and drive a short-lived subscription"
	app.Flags = []cli.Flag{hostnameFlag, portFlag, usernameFlag, passwordFlag}
	app.Commands = []cli.Command{subscribeCmd}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var subscribeCmd = cli.Command{
	Name:  "subscribe",
	Usage: "connect, authenticate, subscribe to a channel, print events for a bounded duration, then unsubscribe and close",
	Flags: []cli.Flag{channelFlag, durationFlag},
	Action: func(c *cli.Context) error {
		cfg := htsp.Config{
			Hostname:      c.GlobalString("host"),
			Port:          c.GlobalInt("port"),
			Username:      c.GlobalString("user"),
			Password:      c.GlobalString("pass"),
			ClientName:    cliName,
			ClientVersion: "dev",
		}

		sv := htsp.New(cfg)
		sv.AddConnectionListener(logConnState{}, nil)

		sub := subscription.New(sv.Dispatcher(), sv.Authenticator(), subscription.Handlers{
			OnSubscriptionStart: func(m *wire.Message) { nlog.Infof("subscriptionStart: %s", jsonOrRaw(m)) },
			OnMuxpkt:            func(m *wire.Message) { nlog.Infof("muxpkt: %d bytes", len(m.Bytes("payload"))) },
			OnSignalStatus:      func(m *wire.Message) { nlog.Infof("signalStatus: %s", jsonOrRaw(m)) },
		})

		waiter := &firstSubscribeOnAuth{sub: sub, channel: c.Int64("channel")}
		sv.AddAuthListener(waiter, nil)

		sv.Start()
		defer sv.Stop()

		time.Sleep(c.Duration("duration"))

		_ = sub.Unsubscribe()
		return nil
	},
}

type logConnState struct{}

func (logConnState) OnConnectionStateChange(old, new conn.State) {
	nlog.Infof("connection: %s -> %s", old, new)
}

// firstSubscribeOnAuth issues the initial subscribe exactly once, the
// first time AUTHENTICATED is observed. Every AUTHENTICATED after that
// (i.e. following a reconnect) is handled transparently by
// subscription.Subscriber itself (spec §4.H), so this listener does
// nothing on later firings.
type firstSubscribeOnAuth struct {
	sub     *subscription.Subscriber
	channel int64

	mu    sync.Mutex
	fired bool
}

func (w *firstSubscribeOnAuth) OnAuthStateChange(_, new auth.State) {
	if new != auth.AUTHENTICATED {
		return
	}
	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	if err := w.sub.Subscribe(w.channel, "", 0); err != nil {
		nlog.Errorf("subscribe: %v", err)
	}
}

func jsonOrRaw(m *wire.Message) string {
	j, err := m.JSON()
	if err != nil {
		return m.Method()
	}
	return j
}
