package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/looprlabs/loopr/internal/chat"
	"github.com/looprlabs/loopr/internal/engine"
	"github.com/looprlabs/loopr/internal/identity"
	"github.com/looprlabs/loopr/internal/messaging"
	"github.com/looprlabs/loopr/internal/metrics"
	"github.com/looprlabs/loopr/internal/protocol"
	"github.com/looprlabs/loopr/internal/ratelimit"
	"github.com/looprlabs/loopr/internal/ws"
)

// engineEventTypes maps engine event names to the protocol message type the
// client receives. Events not listed here are handled by the gateway itself.
var engineEventTypes = map[string]string{
	messaging.EventPairingStarted: protocol.TypePairingStarted,
	messaging.EventError:          protocol.TypeError,
	engine.EventMatchProposed:     protocol.TypeMatchProposed,
	engine.EventMatchAccepted:     protocol.TypeMatchAccepted,
	engine.EventMatchConfirmed:    protocol.TypeMatchConfirmed,
	engine.EventMatchRejected:     protocol.TypeMatchRejected,
	engine.EventMatchTimeout:      protocol.TypeMatchTimeout,
	engine.EventMatchDisconnected: protocol.TypePartnerDisconnected,
}

func main() {
	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	config := ws.DefaultServerConfig()
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "loopr-gateway"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	identityStore, err := identity.NewStore(redisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(identityStore.Client())
	buffer := chat.NewMessageBuffer()

	log.Printf("Loopr gateway starting")
	log.Printf("  listen_addr:     %s", listenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// channels tracks which shared channel each identified user is currently
	// in. Only users with a confirmed match have an entry.
	var channelsMu sync.Mutex
	channels := make(map[string]string) // user_id -> channel_id

	currentChannel := func(userID string) string {
		channelsMu.Lock()
		defer channelsMu.Unlock()
		return channels[userID]
	}
	setChannel := func(userID, channelID string) {
		channelsMu.Lock()
		defer channelsMu.Unlock()
		if channelID == "" {
			delete(channels, userID)
		} else {
			channels[userID] = channelID
		}
	}

	sendToUser := func(userID string, data []byte) {
		if err := server.SendToUser(userID, data); err != nil {
			log.Printf("[gateway] send to user=%s failed: %v", userID, err)
		}
	}

	// setStatus mirrors the user's lifecycle position into the identity store
	// so operators can inspect it. Best-effort; matchd state stays
	// authoritative.
	setStatus := func(userID, status, channelID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := identityStore.SetStatus(ctx, userID, status, channelID); err != nil {
			log.Printf("[gateway] set status for %s: %v", userID, err)
		}
	}

	// leaveChannel drops the user's channel subscription and local state.
	leaveChannel := func(userID, channelID string) {
		_ = natsClient.UnsubscribeFromChannel(userID)
		setChannel(userID, "")
		buffer.Remove(channelID)
		setStatus(userID, identity.StatusIdle, "")
	}

	// subscribeToChannel wires a user into the relay for a shared channel. It
	// filters out self-sent messages and forwards partner events to the client.
	subscribeToChannel := func(userID, channelID string) {
		// A rematch while a chat is still open implicitly leaves the old
		// channel; tell that partner before tearing it down.
		if old := currentChannel(userID); old != "" && old != channelID {
			event := messaging.ChannelMessage{
				Type:      messaging.ChannelTypePartnerLeft,
				ChannelID: old,
				SenderID:  userID,
			}
			left, _ := json.Marshal(event)
			_ = natsClient.PublishChannelMessage(old, left)
			leaveChannel(userID, old)
		}

		log.Printf("[channel-sub] subscribing user=%s to channel=%s", userID, channelID)
		err := natsClient.SubscribeToChannel(channelID, userID, func(data []byte) {
			var event messaging.ChannelMessage
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[channel-sub] unmarshal error for user=%s: %v", userID, err)
				return
			}
			if event.SenderID == userID {
				return // don't echo to sender
			}

			switch event.Type {
			case messaging.ChannelTypeMessage:
				resp, _ := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
					ChannelID: channelID,
					From:      "partner",
					Text:      event.Text,
					Ts:        event.Ts,
				})
				sendToUser(userID, resp)

			case messaging.ChannelTypeTyping:
				resp, _ := protocol.NewServerMessage(protocol.TypeTyping, protocol.ServerTypingMsg{
					ChannelID: channelID,
					IsTyping:  event.IsTyping,
				})
				sendToUser(userID, resp)

			case messaging.ChannelTypePartnerLeft:
				resp, _ := protocol.NewServerMessage(protocol.TypePartnerLeft, protocol.PartnerLeftMsg{
					ChannelID: channelID,
				})
				sendToUser(userID, resp)
				leaveChannel(userID, channelID)
			}
		})
		if err != nil {
			log.Printf("[channel-sub] subscribe channel=%s for user=%s FAILED: %v", channelID, userID, err)
			return
		}
		_ = natsClient.Flush()

		// Catch the user up on messages relayed before their subscription
		// went live.
		for _, m := range buffer.Get(channelID) {
			if m.From == userID {
				continue
			}
			resp, _ := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
				ChannelID: channelID,
				From:      "partner",
				Text:      m.Text,
				Ts:        m.Ts,
			})
			sendToUser(userID, resp)
		}

		setChannel(userID, channelID)
		setStatus(userID, identity.StatusChatting, channelID)
	}

	// handleUserEvent receives everything matchd pushes at a user and either
	// acts on it (channel joins) or translates it into a protocol message.
	handleUserEvent := func(userID string) func(data []byte) {
		return func(data []byte) {
			var ev messaging.UserEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("[user-events] unmarshal error for user=%s: %v", userID, err)
				return
			}

			if ev.Event == messaging.EventChannelJoin {
				var join messaging.ChannelJoin
				if err := json.Unmarshal(ev.Payload, &join); err != nil {
					log.Printf("[user-events] bad channel join for user=%s: %v", userID, err)
					return
				}
				subscribeToChannel(userID, join.ChannelID)
				return
			}

			msgType, ok := engineEventTypes[ev.Event]
			if !ok {
				log.Printf("[user-events] unknown event %q for user=%s", ev.Event, userID)
				return
			}

			var payload interface{} = struct{}{}
			if len(ev.Payload) > 0 {
				payload = ev.Payload
			}
			resp, err := protocol.NewServerMessage(msgType, payload)
			if err != nil {
				log.Printf("[user-events] build %s for user=%s: %v", msgType, userID, err)
				return
			}
			sendToUser(userID, resp)

			switch ev.Event {
			case engine.EventMatchProposed:
				setStatus(userID, identity.StatusProposed, "")
			case engine.EventMatchRejected, engine.EventMatchTimeout, engine.EventMatchDisconnected:
				setStatus(userID, identity.StatusIdle, "")
			}
		}
	}

	sendError := func(conn *ws.Connection, code, message string) {
		resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: code, Message: message,
		})
		_ = conn.WriteMessage(resp)
	}

	sendRateLimited := func(conn *ws.Connection, userID string, rule ratelimit.Rule) {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		retry := int(limiter.RetryAfter(context.Background(), userID, rule).Seconds())
		resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: retry,
		})
		_ = conn.WriteMessage(resp)
	}

	// identifiedUser returns the user bound to the connection, or sends an
	// error and returns "" if the client never said hello.
	identifiedUser := func(conn *ws.Connection) string {
		userID := conn.UserID()
		if userID == "" {
			sendError(conn, "not_identified", "send hello before other messages")
		}
		return userID
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// hello — bind the connection to a user and announce presence
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeHello, func(conn *ws.Connection, msg interface{}) {
		helloMsg, ok := msg.(protocol.HelloMsg)
		if !ok {
			return
		}

		userID := helloMsg.UserID
		if userID == "" {
			userID = uuid.New().String()
		}

		server.Connections().BindUser(conn, userID)

		// Re-subscribing replaces any subscription left over from a previous
		// connection of the same user on this gateway.
		_ = natsClient.UnsubscribeUserEvents(userID)
		if err := natsClient.SubscribeUserEvents(userID, handleUserEvent(userID)); err != nil {
			log.Printf("[gateway] subscribe user events for %s: %v", userID, err)
			sendError(conn, "internal", "subscription failed, reconnect")
			return
		}
		// The subscription must be live before matchd can react to this
		// user's presence.
		_ = natsClient.Flush()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = identityStore.Touch(ctx, userID)
		cancel()

		data, _ := json.Marshal(messaging.PresenceEvent{UserID: userID, ConnID: conn.ID})
		if err := natsClient.PublishPresenceConnect(data); err != nil {
			log.Printf("[gateway] publish presence connect for %s: %v", userID, err)
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeWelcome, protocol.WelcomeMsg{
			UserID: userID,
			ConnID: conn.ID,
		})
		_ = conn.WriteMessage(resp)
		log.Printf("hello from user=%s conn=%s", userID, conn.ID)
	})

	// -----------------------------------------------------------------------
	// pairing_request — update profile and enter the waiting pool
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypePairingRequest, func(conn *ws.Connection, msg interface{}) {
		reqMsg, ok := msg.(protocol.PairingRequestMsg)
		if !ok {
			return
		}
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		allowed, _ := limiter.Allow(ctx, userID, ratelimit.RulePairing)
		if !allowed {
			sendRateLimited(conn, userID, ratelimit.RulePairing)
			return
		}

		// Interests in the request replace the stored profile before the
		// engine reads it back.
		if len(reqMsg.Interests) > 0 {
			if err := identityStore.SetProfile(ctx, userID, reqMsg.Interests, reqMsg.Preference); err != nil {
				log.Printf("[gateway] set profile for %s: %v", userID, err)
				sendError(conn, "internal", "profile update failed")
				return
			}
		}

		data, _ := json.Marshal(messaging.PairingRequest{
			UserID:            userID,
			ConnID:            conn.ID,
			RequirePreference: reqMsg.RequirePreference,
		})
		if err := natsClient.PublishPairingRequest(data); err != nil {
			log.Printf("[gateway] publish pairing request for %s: %v", userID, err)
			sendError(conn, "internal", "pairing request failed")
			return
		}
		setStatus(userID, identity.StatusWaiting, "")
		log.Printf("pairing_request from user=%s interests=%v", userID, reqMsg.Interests)
	})

	// -----------------------------------------------------------------------
	// pairing_cancel — leave the waiting pool
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypePairingCancel, func(conn *ws.Connection, msg interface{}) {
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}

		data, _ := json.Marshal(messaging.PairingCancel{UserID: userID})
		if err := natsClient.PublishPairingCancel(data); err != nil {
			log.Printf("[gateway] publish pairing cancel for %s: %v", userID, err)
		}
		setStatus(userID, identity.StatusIdle, "")
		log.Printf("pairing_cancel from user=%s", userID)
	})

	// -----------------------------------------------------------------------
	// match_accept / match_decline — answer a proposal
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMatchAccept, func(conn *ws.Connection, msg interface{}) {
		acceptMsg, ok := msg.(protocol.MatchAcceptMsg)
		if !ok {
			return
		}
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}
		if acceptMsg.MatchID == "" {
			sendError(conn, "invalid_match", "match_id is required")
			return
		}

		data, _ := json.Marshal(messaging.MatchDecision{MatchID: acceptMsg.MatchID, UserID: userID})
		if err := natsClient.PublishMatchAccept(data); err != nil {
			log.Printf("[gateway] publish match accept for %s: %v", userID, err)
		}
		log.Printf("match_accept from user=%s match=%s", userID, acceptMsg.MatchID)
	})

	dispatcher.Register(protocol.TypeMatchDecline, func(conn *ws.Connection, msg interface{}) {
		declineMsg, ok := msg.(protocol.MatchDeclineMsg)
		if !ok {
			return
		}
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}
		if declineMsg.MatchID == "" {
			sendError(conn, "invalid_match", "match_id is required")
			return
		}

		data, _ := json.Marshal(messaging.MatchDecision{MatchID: declineMsg.MatchID, UserID: userID})
		if err := natsClient.PublishMatchReject(data); err != nil {
			log.Printf("[gateway] publish match reject for %s: %v", userID, err)
		}
		log.Printf("match_decline from user=%s match=%s", userID, declineMsg.MatchID)
	})

	// -----------------------------------------------------------------------
	// message — relay a chat message into the shared channel
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}

		if err := chat.ValidateMessage(chatMsg.Text); err != nil {
			sendError(conn, "invalid_message", err.Error())
			return
		}

		channelID := currentChannel(userID)
		if channelID == "" || channelID != chatMsg.ChannelID {
			sendError(conn, "invalid_channel", "not in that channel")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		allowed, _ := limiter.Allow(ctx, userID, ratelimit.RuleMessage)
		cancel()
		if !allowed {
			sendRateLimited(conn, userID, ratelimit.RuleMessage)
			return
		}

		ts := time.Now().Unix()
		event := messaging.ChannelMessage{
			Type:      messaging.ChannelTypeMessage,
			ChannelID: channelID,
			SenderID:  userID,
			Text:      chatMsg.Text,
			Ts:        ts,
		}
		data, _ := json.Marshal(event)
		if err := natsClient.PublishChannelMessage(channelID, data); err != nil {
			log.Printf("[gateway] publish channel message for %s: %v", userID, err)
			return
		}
		buffer.Add(channelID, chat.BufferedMessage{From: userID, Text: chatMsg.Text, Ts: ts})
	})

	// -----------------------------------------------------------------------
	// typing — relay typing indicator
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}

		channelID := currentChannel(userID)
		if channelID == "" || channelID != typingMsg.ChannelID {
			return
		}

		event := messaging.ChannelMessage{
			Type:      messaging.ChannelTypeTyping,
			ChannelID: channelID,
			SenderID:  userID,
			IsTyping:  typingMsg.IsTyping,
		}
		data, _ := json.Marshal(event)
		_ = natsClient.PublishChannelMessage(channelID, data)
	})

	// -----------------------------------------------------------------------
	// leave_channel — leave the shared channel and tell the partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveChannel, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveChannelMsg)
		if !ok {
			return
		}
		userID := identifiedUser(conn)
		if userID == "" {
			return
		}

		channelID := currentChannel(userID)
		if channelID == "" || channelID != leaveMsg.ChannelID {
			return
		}

		event := messaging.ChannelMessage{
			Type:      messaging.ChannelTypePartnerLeft,
			ChannelID: channelID,
			SenderID:  userID,
		}
		data, _ := json.Marshal(event)
		_ = natsClient.PublishChannelMessage(channelID, data)

		leaveChannel(userID, channelID)
		log.Printf("leave_channel from user=%s channel=%s", userID, channelID)
	})

	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Disconnect cleanup: tell matchd the user is gone and, if they were in a
	// shared channel, tell the partner.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		userID := conn.UserID()
		if userID == "" {
			return
		}
		log.Printf("[disconnect] user=%s conn=%s", userID, conn.ID)

		data, _ := json.Marshal(messaging.PresenceEvent{UserID: userID, ConnID: conn.ID})
		if err := natsClient.PublishPresenceDisconnect(data); err != nil {
			log.Printf("[disconnect] publish presence disconnect for %s: %v", userID, err)
		}

		if channelID := currentChannel(userID); channelID != "" {
			event := messaging.ChannelMessage{
				Type:      messaging.ChannelTypePartnerLeft,
				ChannelID: channelID,
				SenderID:  userID,
			}
			left, _ := json.Marshal(event)
			_ = natsClient.PublishChannelMessage(channelID, left)
			leaveChannel(userID, channelID)
		}

		// Only drop the event subscription if this connection still owns the
		// user; a reconnect may already have re-subscribed.
		if server.Connections().GetByUser(userID) == nil {
			_ = natsClient.UnsubscribeUserEvents(userID)
		}
	})

	if err := server.Start(); err != nil {
		log.Fatalf("server start error: %v", err)
	}

	// --- HTTP routes ---
	router := mux.NewRouter()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		cancel()
		if !allowed {
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		server.HandleUpgrade(w, r)
	})
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		conns, uptime := server.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": conns,
			"uptime":      uptime.String(),
		})
	}).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: corsHandler,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := identityStore.Close(); err != nil {
			log.Printf("identity store close error: %v", err)
		}
		os.Exit(0)
	}()

	log.Printf("gateway listening on %s", listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server error: %v", err)
	}
}

// clientIP extracts the caller's IP for connection rate limiting, honoring
// X-Forwarded-For when the gateway sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
