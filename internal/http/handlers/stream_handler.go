// Live chat websocket handlers.
//
// This file exposes the two live streams:
//   - GET /ws/visitor?device={id}   (visitor widget, anonymous session)
//   - GET /ws/admin                 (admin console, admin session required)
//
// Clients send JSON commands ({"type": ..., ...}) and receive JSON events.
// Command failures are answered with an "error" event on the same stream.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/http/middleware"
	"github.com/tbourn/go-portfolio-backend/internal/kv"
	"github.com/tbourn/go-portfolio-backend/internal/services"
)

// Client command types.
const (
	cmdSubmitName = "submit_name"
	cmdSend       = "send"
	cmdSelectChat = "select_chat"
	cmdReply      = "reply"
	cmdSignOut    = "sign_out"
	cmdPing       = "ping"
)

func unknownCommand(t string) error {
	return domain.Validation(fmt.Sprintf("unknown command %q", t))
}

func visitorError(err error) any {
	code, text := streamError(err)
	return services.VisitorEvent{Type: services.VisitorEventError, Code: code, Text: text}
}

func adminError(err error) any {
	code, text := streamError(err)
	return services.AdminEvent{Type: services.AdminEventError, Code: code, Text: text}
}

// VisitorStream godoc
// @ID          visitorStream
// @Summary     Visitor chat stream (websocket)
// @Description Upgrades to a websocket. Emits session, conversation, messages, system and error events; accepts submit_name{name} and send{text} commands. An anonymous token may be passed as Bearer or ?token=.
// @Tags        Chat
//
// @Param       device  query  string  true   "Client-generated device id"  example(d-7f3a)
// @Param       token   query  string  false  "Current anonymous session token"
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /ws/visitor [get]
func (h *Handlers) VisitorStream(c *gin.Context) {
	device := c.Query("device")
	if !idRE.MatchString(device) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device is required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx := c.Request.Context()
	sess := services.NewVisitorSession(
		h.d.ChatStore,
		kv.Prefixed(h.d.Local, "device:"+device+":"),
		h.d.Sessions,
		middleware.BearerToken(c),
		h.d.Visitor,
	)
	p := newPeer(conn, middleware.LoggerFrom(c).With().Str("stream", "visitor").Logger())
	go writePump(p, sess.Events())

	if err := sess.Open(ctx); err != nil {
		p.reply(visitorError(err))
	}

	p.readPump(visitorError, func(cmd command) bool {
		var err error
		switch cmd.Type {
		case cmdSubmitName:
			err = sess.SubmitName(ctx, cmd.Name)
		case cmdSend:
			err = sess.SendMessage(ctx, cmd.Text)
		case cmdPing:
		default:
			err = unknownCommand(cmd.Type)
		}
		if err != nil {
			p.reply(visitorError(err))
		}
		return true
	})

	sess.Dispose()
	<-p.done
}

// AdminStream godoc
// @ID          adminStream
// @Summary     Admin console stream (websocket)
// @Description Upgrades to a websocket for an allow-listed admin. Emits status, chats, messages{chat_id} and error events; accepts select_chat{chat_id}, reply{text} and sign_out commands. sign_out ends the stream.
// @Tags        Admin
// @Security    BearerAuth
//
// @Param       token  query  string  false  "Admin session token (alternative to Bearer)"
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Router      /ws/admin [get]
func (h *Handlers) AdminStream(c *gin.Context) {
	principal, found := middleware.PrincipalFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "admin session required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx := c.Request.Context()
	console := services.NewAdminConsole(h.d.ChatStore, h.d.Allow, h.d.Admin)
	p := newPeer(conn, middleware.LoggerFrom(c).With().Str("stream", "admin").Logger())
	go writePump(p, console.Events())

	// A refused sign-in has already emitted its denied status.
	if err := console.SignIn(ctx, principal); err != nil {
		if domain.KindOf(err) != domain.KindForbidden {
			p.reply(adminError(err))
		}
		console.Dispose()
		<-p.done
		return
	}

	p.readPump(adminError, func(cmd command) bool {
		var err error
		switch cmd.Type {
		case cmdSelectChat:
			if !idRE.MatchString(cmd.ChatID) {
				err = domain.Validation("invalid chat id")
				break
			}
			err = console.SelectChat(ctx, cmd.ChatID)
		case cmdReply:
			err = console.Reply(ctx, cmd.Text)
		case cmdSignOut:
			console.SignOut()
			return false
		case cmdPing:
		default:
			err = unknownCommand(cmd.Type)
		}
		if err != nil {
			p.reply(adminError(err))
		}
		return true
	})

	console.Dispose()
	<-p.done
}
