package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/domovik/resident-chat/internal/db"
	"github.com/domovik/resident-chat/internal/message"
	"github.com/domovik/resident-chat/internal/metrics"
	"github.com/domovik/resident-chat/internal/presence"
	"github.com/domovik/resident-chat/internal/protocol"
	"github.com/domovik/resident-chat/internal/ratelimit"
	"github.com/domovik/resident-chat/internal/realtime"
	"github.com/domovik/resident-chat/internal/rooms"
	"github.com/domovik/resident-chat/internal/session"
	"github.com/domovik/resident-chat/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
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

	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	// --- NATS ---
	rtConfig := realtime.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		rtConfig.URL = natsURL
	}
	rtClient, err := realtime.Connect(rtConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "chat-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	presenceStore := presence.NewStore(sessionStore.Client())
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- PostgreSQL ---
	dbConfig := db.DefaultConfig()
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		dbConfig.DSN = dsn
	}
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		dbConfig.MigrationsPath = v
	}
	pg, err := db.Open(dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}

	msgStore := message.NewStore(pg)
	roomStore := rooms.NewStore(pg)
	msgCache := message.NewCache()

	log.Printf("Resident chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", rtConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// Room fanout: one NATS subscription per room with at least one local
	// viewer, reference-counted by the number of viewing connections. Events
	// arriving on the room's subjects are broadcast to every local viewer.
	fanout := func(ev realtime.Event) {
		switch ev.Type {
		case realtime.EventMessageCreated:
			if ev.Message == nil {
				return
			}
			msgCache.Add(ev.RoomID, *ev.Message)
			resp, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerMessageMsg{
				Message: *ev.Message,
			})
			if err != nil {
				return
			}
			// The sender's own connection gets it too; the client
			// de-duplicates against its optimistic insert.
			for _, conn := range server.Connections().InRoom(ev.RoomID) {
				if err := server.SendMessage(conn.ID, resp); err == nil {
					metrics.MessagesTotal.WithLabelValues("delivered").Inc()
				}
			}

			// Members connected here but viewing another room (or none) get
			// a room-list preview update instead of the full message.
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			room, err := roomStore.Get(ctx, ev.RoomID)
			cancel()
			if err != nil || room == nil {
				return
			}
			update, err := protocol.NewServerMessage(protocol.TypeRoomUpdated, protocol.RoomUpdatedMsg{
				RoomID: ev.RoomID,
				LastMessage: rooms.LastMessage{
					Body:     ev.Message.Body,
					SenderID: ev.Message.SenderID,
					SentAt:   ev.Message.CreatedAt,
				},
			})
			if err != nil {
				return
			}
			for _, conn := range server.Connections().All() {
				if conn.UserID == "" || conn.RoomID == ev.RoomID || !room.HasMember(conn.UserID) {
					continue
				}
				_ = server.SendMessage(conn.ID, update)
			}

		case realtime.EventTypingStarted, realtime.EventTypingStopped:
			isTyping := ev.Type == realtime.EventTypingStarted
			resp, err := protocol.NewServerMessage(protocol.TypeServerTyping, protocol.ServerTypingMsg{
				RoomID:   ev.RoomID,
				UserID:   ev.UserID,
				Name:     ev.Name,
				IsTyping: isTyping,
			})
			if err != nil {
				return
			}
			for _, conn := range server.Connections().InRoom(ev.RoomID) {
				// Never echo a resident's typing state back at them.
				if conn.UserID == ev.UserID {
					continue
				}
				_ = server.SendMessage(conn.ID, resp)
			}
		}
	}

	tracker := newFanoutTracker(
		func(roomID string) error {
			err := rtClient.SubscribeRoom(roomID, "srv:"+roomID, fanout)
			if err != nil {
				log.Printf("[fanout] subscribe room=%s FAILED: %v", roomID, err)
			}
			return err
		},
		func(roomID string) {
			if err := rtClient.UnsubscribeRoom("srv:" + roomID); err != nil {
				log.Printf("[fanout] unsubscribe room=%s: %v", roomID, err)
			}
		},
	)

	joinRoomFanout := tracker.join
	leaveRoomFanout := func(roomID string) {
		if tracker.leave(roomID) {
			// Without a live subscription the cache would silently miss
			// messages published by other instances.
			msgCache.Drop(roomID)
		}
	}

	// roomHot reports whether this instance already has a live fanout
	// subscription for the room, which is what makes the message cache
	// trustworthy for serving history.
	roomHot := tracker.hot

	// cachedPage serves the newest history page from the in-memory cache.
	// The cache follows the same paging rule as the store: a full page gets
	// a cursor at its oldest message, a short page means the history is
	// exhausted.
	cachedPage := func(roomID string) ([]message.Message, string, bool) {
		if !roomHot(roomID) {
			return nil, "", false
		}
		page := msgCache.Recent(roomID)
		if len(page) == 0 {
			return nil, "", false
		}
		next := ""
		if len(page) == message.DefaultPageSize {
			oldest := page[0]
			cur, err := message.EncodeCursor(message.Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID})
			if err != nil {
				return nil, "", false
			}
			next = cur
		}
		return page, next, true
	}

	sendError := func(conn *ws.Connection, code, msg string) {
		resp, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: code, Message: msg,
		})
		if err != nil {
			return
		}
		_ = conn.WriteMessage(resp)
	}

	sendRateLimited := func(conn *ws.Connection, retryAfter int) {
		resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: retryAfter,
		})
		_ = conn.WriteMessage(resp)
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// hello — bind the resident's identity to the session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeHello, func(conn *ws.Connection, msg interface{}) {
		helloMsg, ok := msg.(protocol.HelloMsg)
		if !ok {
			return
		}
		if helloMsg.UserID == "" {
			sendError(conn, "invalid_hello", "user_id is required")
			return
		}
		sid := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := sessionStore.Identify(ctx, sid, helloMsg.UserID, helloMsg.DisplayName); err != nil {
			log.Printf("hello: identify session=%s: %v", sid, err)
			sendError(conn, "internal", "failed to store identity")
			return
		}
		conn.UserID = helloMsg.UserID
		conn.DisplayName = helloMsg.DisplayName

		roomList, err := roomStore.ListRooms(ctx, helloMsg.UserID)
		if err != nil {
			log.Printf("hello: list rooms user=%s: %v", helloMsg.UserID, err)
			sendError(conn, "internal", "failed to load rooms")
			return
		}

		resp, err := protocol.NewServerMessage(protocol.TypeRoomList, protocol.RoomListMsg{
			Rooms: roomList,
		})
		if err != nil {
			log.Printf("hello: build room_list session=%s: %v", sid, err)
			return
		}
		_ = conn.WriteMessage(resp)
		log.Printf("hello from session=%s user=%s rooms=%d", sid, helloMsg.UserID, len(roomList))
	})

	// -----------------------------------------------------------------------
	// join_room — start viewing a room, reply with the newest history page
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		if conn.UserID == "" {
			sendError(conn, "not_identified", "hello required before join_room")
			return
		}
		sid := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		room, err := roomStore.Get(ctx, joinMsg.RoomID)
		if err != nil {
			log.Printf("join_room: get room=%s: %v", joinMsg.RoomID, err)
			sendError(conn, "internal", "failed to load room")
			return
		}
		if room == nil || !room.HasMember(conn.UserID) {
			sendError(conn, "invalid_room", "unknown room or not a member")
			return
		}

		wasHot := roomHot(room.ID)
		page, next, fromCache := cachedPage(room.ID)
		if !fromCache {
			start := time.Now()
			page, next, err = msgStore.FetchPage(ctx, room.ID, nil, message.DefaultPageSize)
			if err != nil {
				log.Printf("join_room: fetch page room=%s: %v", room.ID, err)
				sendError(conn, "internal", "failed to load history")
				return
			}
			metrics.HistoryFetchLatency.Observe(time.Since(start).Seconds())
			if !wasHot {
				for _, m := range page {
					msgCache.Add(room.ID, m)
				}
			}
		}

		// Leave whatever room the connection was on before.
		if prev := conn.RoomID; prev != room.ID {
			server.Connections().JoinRoom(sid, room.ID)
			leaveRoomFanout(prev)
			joinRoomFanout(room.ID)
		}
		_ = sessionStore.SetActiveRoom(ctx, sid, room.ID)

		resp, err := protocol.NewServerMessage(protocol.TypeRoomJoined, protocol.RoomJoinedMsg{
			RoomID:     room.ID,
			Messages:   page,
			NextCursor: next,
		})
		if err != nil {
			log.Printf("join_room: build room_joined session=%s: %v", sid, err)
			return
		}
		_ = conn.WriteMessage(resp)

		// Catch the new viewer up on residents already typing.
		if entries, err := presenceStore.ListTyping(ctx, room.ID); err == nil {
			for _, e := range entries {
				if e.UserID == conn.UserID {
					continue
				}
				typ, err := protocol.NewServerMessage(protocol.TypeServerTyping, protocol.ServerTypingMsg{
					RoomID:   room.ID,
					UserID:   e.UserID,
					Name:     e.Name,
					IsTyping: true,
				})
				if err != nil {
					continue
				}
				_ = conn.WriteMessage(typ)
			}
		}
		log.Printf("join_room session=%s user=%s room=%s history=%d", sid, conn.UserID, room.ID, len(page))
	})

	// -----------------------------------------------------------------------
	// leave_room — stop viewing the active room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *ws.Connection, msg interface{}) {
		sid := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		prev := conn.RoomID
		if prev == "" {
			return
		}
		server.Connections().LeaveRoom(sid)
		leaveRoomFanout(prev)
		_ = sessionStore.ClearActiveRoom(ctx, sid)

		// A resident who walks away stops typing.
		if conn.UserID != "" {
			if err := presenceStore.ClearTyping(ctx, prev, conn.UserID); err == nil {
				_ = rtClient.PublishTyping(realtime.NewTypingEvent(prev, conn.UserID, conn.DisplayName, false))
			}
		}
		log.Printf("leave_room session=%s room=%s", sid, prev)
	})

	// -----------------------------------------------------------------------
	// send_message — persist and publish a new message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if conn.UserID == "" {
			sendError(conn, "not_identified", "hello required before send_message")
			return
		}
		if sendMsg.RoomID == "" || sendMsg.RoomID != conn.RoomID {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			sendError(conn, "invalid_room", "not viewing that room")
			return
		}

		if allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleMessage); !allowed {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			sendRateLimited(conn, int(ratelimit.RuleMessage.Window.Seconds()))
			return
		}

		if err := message.Validate(sendMsg.Body); err != nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			sendError(conn, "invalid_message", err.Error())
			return
		}

		kind := sendMsg.Kind
		if kind == "" {
			kind = message.KindText
		}

		start := time.Now()
		m := message.Message{
			ID:        uuid.New().String(),
			RoomID:    sendMsg.RoomID,
			SenderID:  conn.UserID,
			Body:      sendMsg.Body,
			Kind:      kind,
			ReplyTo:   sendMsg.ReplyTo,
			File:      sendMsg.File,
			CreatedAt: time.Now().UTC(),
		}
		if err := msgStore.Insert(ctx, &m); err != nil {
			log.Printf("send_message: insert session=%s room=%s: %v", sid, m.RoomID, err)
			sendError(conn, "internal", "failed to store message")
			return
		}
		if err := roomStore.TouchLastMessage(ctx, m.RoomID, m.SenderID, m.Body, m.CreatedAt); err != nil {
			log.Printf("send_message: touch room=%s: %v", m.RoomID, err)
		}

		// Sending a message ends the sender's typing state.
		if err := presenceStore.ClearTyping(ctx, m.RoomID, conn.UserID); err == nil {
			_ = rtClient.PublishTyping(realtime.NewTypingEvent(m.RoomID, conn.UserID, conn.DisplayName, false))
		}

		if err := rtClient.PublishMessage(realtime.NewMessageEvent(m)); err != nil {
			log.Printf("send_message: publish room=%s: %v", m.RoomID, err)
		}
		metrics.MessagesTotal.WithLabelValues("sent").Inc()
		metrics.MessageLatency.Observe(time.Since(start).Seconds())
	})

	// -----------------------------------------------------------------------
	// load_older — fetch the history page before a cursor
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLoadOlder, func(conn *ws.Connection, msg interface{}) {
		loadMsg, ok := msg.(protocol.LoadOlderMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if loadMsg.RoomID == "" || loadMsg.RoomID != conn.RoomID {
			sendError(conn, "invalid_room", "not viewing that room")
			return
		}

		if allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleHistory); !allowed {
			sendRateLimited(conn, int(ratelimit.RuleHistory.Window.Seconds()))
			return
		}

		cursor, err := message.DecodeCursor(loadMsg.Cursor)
		if err != nil {
			sendError(conn, "invalid_cursor", "malformed history cursor")
			return
		}

		start := time.Now()
		page, next, err := msgStore.FetchPage(ctx, loadMsg.RoomID, cursor, message.DefaultPageSize)
		if err != nil {
			log.Printf("load_older: fetch room=%s: %v", loadMsg.RoomID, err)
			sendError(conn, "internal", "failed to load history")
			return
		}
		metrics.HistoryFetchLatency.Observe(time.Since(start).Seconds())

		resp, err := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{
			RoomID:     loadMsg.RoomID,
			Messages:   page,
			NextCursor: next,
		})
		if err != nil {
			log.Printf("load_older: build history session=%s: %v", sid, err)
			return
		}
		_ = conn.WriteMessage(resp)
	})

	// -----------------------------------------------------------------------
	// typing — record presence and relay the indicator
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if conn.UserID == "" || typingMsg.RoomID == "" || typingMsg.RoomID != conn.RoomID {
			return
		}

		if allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleTyping); !allowed {
			return
		}

		if typingMsg.IsTyping {
			if err := presenceStore.SetTyping(ctx, typingMsg.RoomID, conn.UserID, conn.DisplayName); err != nil {
				log.Printf("typing: set room=%s user=%s: %v", typingMsg.RoomID, conn.UserID, err)
			}
			metrics.TypingSignalsTotal.WithLabelValues("started").Inc()
		} else {
			if err := presenceStore.ClearTyping(ctx, typingMsg.RoomID, conn.UserID); err != nil {
				log.Printf("typing: clear room=%s user=%s: %v", typingMsg.RoomID, conn.UserID, err)
			}
			metrics.TypingSignalsTotal.WithLabelValues("stopped").Inc()
		}

		ev := realtime.NewTypingEvent(typingMsg.RoomID, conn.UserID, conn.DisplayName, typingMsg.IsTyping)
		if err := rtClient.PublishTyping(ev); err != nil {
			log.Printf("typing: publish room=%s: %v", typingMsg.RoomID, err)
		}
	})

	server = ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Per-IP connect throttling, checked before the upgrade.
	server.SetConnectGate(func(r *http.Request) bool {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, host, ratelimit.RuleConnect)
		return allowed
	})

	// Disconnect cleanup: release the room fanout slot and clear any typing
	// state the resident left behind.
	server.SetOnDisconnect(func(connID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		sess, err := sessionStore.Get(ctx, connID)
		if err != nil || sess == nil {
			return
		}
		if sess.ActiveRoom != "" {
			leaveRoomFanout(sess.ActiveRoom)
			if sess.Identified() {
				if err := presenceStore.ClearTyping(ctx, sess.ActiveRoom, sess.UserID); err == nil {
					_ = rtClient.PublishTyping(realtime.NewTypingEvent(sess.ActiveRoom, sess.UserID, sess.DisplayName, false))
				}
			}
		}
		log.Printf("disconnect cleanup for session=%s user=%s room=%s", connID, sess.UserID, sess.ActiveRoom)
	})

	// Background sweeps and gauges.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	go presence.StartSweeper(bgCtx, sessionStore.Client())
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				metrics.ConnectionsTotal.Set(float64(server.Connections().Count()))
				metrics.ActiveRooms.Set(float64(server.Connections().RoomCount()))
			}
		}
	}()

	// Prometheus endpoint on its own listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		bgCancel()
		rtClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := pg.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
