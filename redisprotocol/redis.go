package redisprotocol

import (
	"fmt"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/tidwall/redcon"

	"github.com/luoyjx/crdt-dict/redisprotocol/commands"
	"github.com/luoyjx/crdt-dict/server"
)

// RedisServer exposes the dictionary over the Redis serialization
// protocol. Writes accept an explicit timestamp via the TS option;
// DUMP and MERGE carry whole snapshots so two instances can be
// converged by any RESP client.
type RedisServer struct {
	server *server.Server
	logger log.Logger
}

// NewRedisServer creates a new RESP front-end for srv.
func NewRedisServer(srv *server.Server, logger log.Logger) *RedisServer {
	return &RedisServer{
		server: srv,
		logger: logger,
	}
}

// Start listens on addr and serves until the listener fails.
func (rs *RedisServer) Start(addr string) error {
	return redcon.ListenAndServe(addr,
		rs.handleCommand,
		rs.handleConnect,
		rs.handleDisconnect,
	)
}

// handleCommand processes RESP commands
func (rs *RedisServer) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	switch strings.ToLower(string(cmd.Args[0])) {
	case "set":
		setArgs, err := commands.ParseSetArgs(cmd)
		if err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}

		prev, had, err := rs.server.Set(setArgs.Key, setArgs.Value, setArgs.Timestamp)
		if err != nil {
			conn.WriteError(fmt.Sprintf("ERR %v", err))
			return
		}
		// The prior logical value is the useful reply for an LWW
		// register; OK alone would discard it.
		if had {
			conn.WriteBulkString(prev)
		} else {
			conn.WriteNull()
		}

	case "get":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'get' command")
			return
		}
		value, exists := rs.server.Get(string(cmd.Args[1]))
		if exists {
			conn.WriteBulkString(value)
		} else {
			conn.WriteNull()
		}

	case "del":
		if len(cmd.Args) < 2 {
			conn.WriteError("ERR wrong number of arguments for 'del' command")
			return
		}
		keys := make([]string, 0, len(cmd.Args)-1)
		for i := 1; i < len(cmd.Args); i++ {
			keys = append(keys, string(cmd.Args[i]))
		}
		removed, err := rs.server.Del(keys, nil)
		if err != nil {
			conn.WriteError(fmt.Sprintf("ERR %v", err))
			return
		}
		conn.WriteInt64(removed)

	case "exists":
		if len(cmd.Args) < 2 {
			conn.WriteError("ERR wrong number of arguments for 'exists' command")
			return
		}
		keys := make([]string, 0, len(cmd.Args)-1)
		for i := 1; i < len(cmd.Args); i++ {
			keys = append(keys, string(cmd.Args[i]))
		}
		conn.WriteInt64(rs.server.Exists(keys...))

	case "keys":
		// Only the full wildcard is supported; per-pattern matching is
		// not part of the dictionary surface.
		if len(cmd.Args) != 2 || string(cmd.Args[1]) != "*" {
			conn.WriteError("ERR only 'keys *' is supported")
			return
		}
		keys := rs.server.Keys()
		conn.WriteArray(len(keys))
		for _, key := range keys {
			conn.WriteBulkString(key)
		}

	case "dbsize":
		if len(cmd.Args) == 2 && strings.EqualFold(string(cmd.Args[1]), "withremoved") {
			conn.WriteInt64(int64(rs.server.SizeWithRemoved()))
			return
		}
		if len(cmd.Args) != 1 {
			conn.WriteError("ERR wrong number of arguments for 'dbsize' command")
			return
		}
		conn.WriteInt64(int64(rs.server.Size()))

	case "dump":
		if len(cmd.Args) != 1 {
			conn.WriteError("ERR wrong number of arguments for 'dump' command")
			return
		}
		data, err := rs.server.Dump()
		if err != nil {
			conn.WriteError(fmt.Sprintf("ERR %v", err))
			return
		}
		conn.WriteBulk(data)

	case "merge":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'merge' command")
			return
		}
		if err := rs.server.Merge(cmd.Args[1]); err != nil {
			conn.WriteError(fmt.Sprintf("ERR %v", err))
			return
		}
		conn.WriteString("OK")

	case "ping":
		if len(cmd.Args) == 1 {
			conn.WriteString("PONG")
		} else if len(cmd.Args) == 2 {
			conn.WriteBulk(cmd.Args[1])
		} else {
			conn.WriteError("ERR wrong number of arguments for 'ping' command")
		}

	case "echo":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'echo' command")
			return
		}
		conn.WriteBulk(cmd.Args[1])

	case "info":
		info := fmt.Sprintf("# Server\r\nreplica_id:%s\r\n# Keyspace\r\nkeys_live:%d\r\nkeys_tracked:%d\r\n",
			rs.server.ReplicaID(), rs.server.Size(), rs.server.SizeWithRemoved())
		conn.WriteBulkString(info)

	case "quit":
		conn.WriteString("OK")
		conn.Close()

	default:
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s'", string(cmd.Args[0])))
	}
}

// handleConnect handles new connections
func (rs *RedisServer) handleConnect(conn redcon.Conn) bool {
	level.Debug(rs.logger).Log("msg", "client connected", "addr", conn.RemoteAddr())
	return true
}

// handleDisconnect handles client disconnections
func (rs *RedisServer) handleDisconnect(conn redcon.Conn, err error) {
	if err != nil {
		level.Debug(rs.logger).Log("msg", "client disconnected", "addr", conn.RemoteAddr(), "err", err)
	}
}
