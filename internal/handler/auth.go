package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/persist"
	"go.uber.org/zap"
)

const loginTimeout = 10 * time.Second

// HandleLogin verifies credentials without blocking the tick. The account
// lookup goes through the command queue and bcrypt runs on its own
// goroutine; the outcome is posted back and applied at the next
// structural drain.
func HandleLogin(sess *net.Session, msg *packet.Login, deps *Deps) {
	if sess.Pending {
		reject(sess, msg.Type(), "login already in progress")
		return
	}
	account := strings.ToLower(strings.TrimSpace(msg.Account))
	if account == "" || msg.Password == "" {
		sendLoginResult(sess, packet.LoginWrongPass)
		return
	}
	if other := deps.Sessions.ByAccount(account); other != nil && other != sess {
		sendLoginResult(sess, packet.LoginInUse)
		return
	}

	sess.Pending = true
	password := msg.Password
	lookup := deps.DB.Enqueue(dbproxy.Command{Table: dbproxy.TableAccounts, Key: account, Kind: dbproxy.KindQuery})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		code := verifyLogin(ctx, lookup, account, password, deps)
		deps.World.Post(func() { finishLogin(sess, account, code, deps) })
	}()
}

// verifyLogin runs off the tick goroutine.
func verifyLogin(ctx context.Context, lookup *dbproxy.Ticket, account, password string, deps *Deps) byte {
	res, err := lookup.Await(ctx)
	switch {
	case errors.Is(err, dbproxy.ErrNotFound):
		if !deps.Config.Auth.AutoCreateAccounts {
			return packet.LoginNoAccount
		}
		return createAccount(ctx, account, password, deps)
	case err != nil:
		deps.Log.Warn("載入帳號資料庫錯誤", zap.String("account", account), zap.Error(err))
		return packet.LoginUnavailable
	}

	var a persist.Account
	if err := json.Unmarshal(res.Payload, &a); err != nil {
		deps.Log.Error("解碼帳號失敗", zap.String("account", account), zap.Error(err))
		return packet.LoginUnavailable
	}
	if !persist.CheckPassword(a.PasswordHash, password) {
		return packet.LoginWrongPass
	}
	if a.Banned {
		deps.Log.Info("封鎖帳號嘗試登入", zap.String("account", account))
		return packet.LoginBanned
	}

	now := time.Now()
	a.LastActive = &now
	if payload, err := json.Marshal(a); err == nil {
		deps.DB.Enqueue(dbproxy.Command{Table: dbproxy.TableAccounts, Key: account, Kind: dbproxy.KindUpdate, Payload: payload})
	}
	return packet.LoginOK
}

func createAccount(ctx context.Context, account, password string, deps *Deps) byte {
	hash, err := persist.HashPassword(password)
	if err != nil {
		deps.Log.Error("密碼雜湊失敗", zap.Error(err))
		return packet.LoginUnavailable
	}
	payload, err := json.Marshal(persist.Account{Name: account, PasswordHash: hash, CreatedAt: time.Now()})
	if err != nil {
		return packet.LoginUnavailable
	}
	_, err = deps.DB.Enqueue(dbproxy.Command{
		Table:   dbproxy.TableAccounts,
		Key:     account,
		Kind:    dbproxy.KindCreate,
		Payload: payload,
	}).Await(ctx)
	switch {
	case errors.Is(err, dbproxy.ErrConflict):
		// Created concurrently by another login; the password is unverified.
		return packet.LoginWrongPass
	case err != nil:
		deps.Log.Warn("建立帳號資料庫錯誤", zap.String("account", account), zap.Error(err))
		return packet.LoginUnavailable
	}
	deps.Log.Info("帳號已建立", zap.String("account", account))
	return packet.LoginOK
}

// finishLogin runs on the tick goroutine.
func finishLogin(sess *net.Session, account string, code byte, deps *Deps) {
	sess.Pending = false
	if sess.IsClosed() {
		return
	}
	if code == packet.LoginOK {
		if other := deps.Sessions.ByAccount(account); other != nil && other != sess {
			code = packet.LoginInUse
		}
	}
	if code != packet.LoginOK {
		sendLoginResult(sess, code)
		return
	}
	deps.Sessions.BindAccount(sess, account)
	sess.SetState(packet.StateActive)
	sess.Log().Info("登入成功", zap.String("account", account))
	sendLoginResult(sess, packet.LoginOK)
}

func sendLoginResult(sess *net.Session, code byte) {
	sess.Send(&packet.LoginResult{Code: code})
}

func HandlePing(sess *net.Session, msg *packet.Ping, _ *Deps) {
	sess.Send(&packet.Pong{Nonce: msg.Nonce})
}

// HandleLogout closes the session. The player entity is saved and
// despawned by the cleanup phase.
func HandleLogout(sess *net.Session, _ *Deps) {
	sess.Log().Info("要求登出")
	sess.Close()
}
