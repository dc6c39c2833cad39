package logbook

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// server-pushed control events. the payload of a logout event is empty:
// it is a pure trigger.
type RealtimeEvent struct {
	Type string   `json:"type"`
	Key  QueryKey `json:"key,omitempty"`
}

const (
	RealtimeEventInvalidate = "invalidate"
	RealtimeEventLogout     = "logout"
)

type RealtimeEventFunction = func(event *RealtimeEvent)

type realtimeAuth struct {
	Token string `json:"token"`
}

type RealtimeSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultRealtimeSettings() *RealtimeSettings {
	return &RealtimeSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
	}
}

// Realtime listens on a websocket for invalidation hints and the forced
// logout broadcast. it is optional: the gateway's 401 path covers forced
// logout without it, and invalidation falls back to staleness windows.
type Realtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	realtimeUrl string
	api         *LogbookApi
	cache       *QueryCache

	settings *RealtimeSettings

	eventCallbacks *CallbackList[RealtimeEventFunction]
}

func NewRealtimeWithDefaults(
	ctx context.Context,
	realtimeUrl string,
	api *LogbookApi,
	cache *QueryCache,
) *Realtime {
	return NewRealtime(ctx, realtimeUrl, api, cache, DefaultRealtimeSettings())
}

func NewRealtime(
	ctx context.Context,
	realtimeUrl string,
	api *LogbookApi,
	cache *QueryCache,
	settings *RealtimeSettings,
) *Realtime {
	cancelCtx, cancel := context.WithCancel(ctx)
	realtime := &Realtime{
		ctx:            cancelCtx,
		cancel:         cancel,
		realtimeUrl:    realtimeUrl,
		api:            api,
		cache:          cache,
		settings:       settings,
		eventCallbacks: NewCallbackList[RealtimeEventFunction](),
	}
	go realtime.run()
	return realtime
}

// observe events as they arrive, e.g. for diagnostics. returns an
// unsubscribe function.
func (self *Realtime) AddEventCallback(eventCallback RealtimeEventFunction) func() {
	callbackId := self.eventCallbacks.Add(eventCallback)
	return func() {
		self.eventCallbacks.Remove(callbackId)
	}
}

func (self *Realtime) run() {
	defer self.cancel()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.realtimeUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteJSON(&realtimeAuth{Token: self.api.Token()}); err != nil {
				return nil, err
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[rt]connect error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(self.settings.PingTimeout):
					}

					ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
					if err := ws.WriteMessage(websocket.PingMessage, make([]byte, 0)); err != nil {
						// a websocket deadline timeout cannot be recovered
						return
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					var event RealtimeEvent
					if err := ws.ReadJSON(&event); err != nil {
						glog.Infof("[rt]read error = %s\n", err)
						return
					}
					self.handleEvent(&event)
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		c()

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *Realtime) handleEvent(event *RealtimeEvent) {
	switch event.Type {
	case RealtimeEventInvalidate:
		glog.V(1).Infof("[rt]invalidate %s\n", event.Key)
		self.cache.Invalidate(event.Key)
	case RealtimeEventLogout:
		glog.Infof("[rt]logout broadcast\n")
		self.api.ForcedLogout().NotifyAll()
	default:
		glog.V(2).Infof("[rt]other = %s\n", event.Type)
	}

	for _, eventCallback := range self.eventCallbacks.Get() {
		eventCallback(event)
	}
}

func (self *Realtime) Close() {
	self.cancel()
}
