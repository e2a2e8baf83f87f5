package session

import (
	"fmt"

	"github.com/behrlich/mediagraphd/internal/pod"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/behrlich/mediagraphd/internal/wire"
)

// putProps writes a property dict as a Struct of alternating key/value
// strings; pod has no dedicated dict tag (spec.md's original POD alphabet
// doesn't need one beyond Struct), so a dict is just a Struct a reader
// knows to consume two elements at a time.
func putProps(b *pod.Builder, props map[string]string) {
	b.BeginStruct()
	for k, v := range props {
		b.PutString(k)
		b.PutString(v)
	}
	b.End()
}

func readProps(c *pod.Cursor) (map[string]string, error) {
	sub, err := c.EnterStruct()
	if err != nil {
		return nil, fmt.Errorf("session: props struct: %w", err)
	}
	props := make(map[string]string)
	for sub.Len() > 0 {
		k, err := sub.ReadString()
		if err != nil {
			return nil, fmt.Errorf("session: prop key: %w", err)
		}
		v, err := sub.ReadString()
		if err != nil {
			return nil, fmt.Errorf("session: prop value: %w", err)
		}
		props[k] = v
	}
	return props, nil
}

func buildFrame(objectID uint32, opcode uint16, body []byte) (wire.FrameHeader, []byte) {
	qwords := (len(body) + 7) / 8
	return wire.FrameHeader{ObjectID: objectID, Opcode: opcode, SizeQwords: uint16(qwords)}, body
}

// encodeHello/decodeHello etc. follow the same shape: build or parse a
// single pod.Struct carrying the opcode's argument list from spec.md
// §4.9's bootstrap table.

func encodeHello(clientVersion int32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(clientVersion)
	b.End()
	return b.Bytes()
}

func decodeHello(body []byte) (int32, error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return 0, err
	}
	return sub.ReadInt()
}

func encodeSync(targetID, token int32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(targetID)
	b.PutInt(token)
	b.End()
	return b.Bytes()
}

func decodeSync(body []byte) (targetID, token int32, err error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return 0, 0, err
	}
	if targetID, err = sub.ReadInt(); err != nil {
		return 0, 0, err
	}
	token, err = sub.ReadInt()
	return targetID, token, err
}

func encodeGetRegistry(version, newID int32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(version)
	b.PutInt(newID)
	b.End()
	return b.Bytes()
}

func decodeGetRegistry(body []byte) (version, newID int32, err error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return 0, 0, err
	}
	if version, err = sub.ReadInt(); err != nil {
		return 0, 0, err
	}
	newID, err = sub.ReadInt()
	return version, newID, err
}

func encodeCreateObject(factory, objType string, version int32, props map[string]string, newID int32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutString(factory)
	b.PutString(objType)
	b.PutInt(version)
	putProps(b, props)
	b.PutInt(newID)
	b.End()
	return b.Bytes()
}

func decodeCreateObject(body []byte) (factory, objType string, version int32, props map[string]string, newID int32, err error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return
	}
	if factory, err = sub.ReadString(); err != nil {
		return
	}
	if objType, err = sub.ReadString(); err != nil {
		return
	}
	if version, err = sub.ReadInt(); err != nil {
		return
	}
	if props, err = readProps(sub); err != nil {
		return
	}
	newID, err = sub.ReadInt()
	return
}

func encodeDestroy(id int32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(id)
	b.End()
	return b.Bytes()
}

func decodeDestroy(body []byte) (int32, error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return 0, err
	}
	return sub.ReadInt()
}

func encodeDone(targetID, token int32) []byte {
	return encodeSync(targetID, token)
}

func encodeError(id int32, res ResultCode, message string) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(id)
	b.PutInt(int32(res))
	b.PutString(message)
	b.End()
	return b.Bytes()
}

func encodePingPong(id, token int32) []byte {
	return encodeSync(id, token)
}

func decodePingPong(body []byte) (id, token int32, err error) {
	return decodeSync(body)
}

func encodeBind(id int32, objType string, version, newID int32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(id)
	b.PutString(objType)
	b.PutInt(version)
	b.PutInt(newID)
	b.End()
	return b.Bytes()
}

func decodeBind(body []byte) (id int32, objType string, version, newID int32, err error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return
	}
	if id, err = sub.ReadInt(); err != nil {
		return
	}
	if objType, err = sub.ReadString(); err != nil {
		return
	}
	if version, err = sub.ReadInt(); err != nil {
		return
	}
	newID, err = sub.ReadInt()
	return
}

func encodeGlobal(g *Global, perms Permission) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(int32(g.ID))
	b.PutInt(int32(perms))
	b.PutString(g.Type)
	b.PutInt(int32(g.Version))
	putProps(b, g.Props)
	b.End()
	return b.Bytes()
}

func encodeSetParam(portID uint32, dir port.Direction, format port.Format) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(int32(portID))
	b.PutInt(int32(dir))
	b.PutInt(int32(format.MediaType))
	b.PutInt(int32(format.Rate))
	b.PutInt(int32(format.Channels))
	b.End()
	return b.Bytes()
}

func decodeSetParam(body []byte) (portID uint32, dir port.Direction, format port.Format, err error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return
	}
	var v int32
	if v, err = sub.ReadInt(); err != nil {
		return
	}
	portID = uint32(v)
	if v, err = sub.ReadInt(); err != nil {
		return
	}
	dir = port.Direction(v)
	if v, err = sub.ReadInt(); err != nil {
		return
	}
	format.MediaType = uint32(v)
	if v, err = sub.ReadInt(); err != nil {
		return
	}
	format.Rate = uint32(v)
	v, err = sub.ReadInt()
	format.Channels = uint32(v)
	return
}

func encodeUseBuffers(portID uint32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(int32(portID))
	b.End()
	return b.Bytes()
}

func decodeUseBuffers(body []byte) (portID uint32, err error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return
	}
	v, err := sub.ReadInt()
	portID = uint32(v)
	return
}

// NodeCommandOp names a Start/Pause/Suspend command carried by
// OpNodeCommand, the wire representation of scheduler.CmdOp/
// graph.PortCommand.
type NodeCommandOp int32

const (
	NodeCmdPause NodeCommandOp = iota
	NodeCmdStart
	NodeCmdSuspend
)

func encodeNodeCommand(op NodeCommandOp) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(int32(op))
	b.End()
	return b.Bytes()
}

func decodeNodeCommand(body []byte) (NodeCommandOp, error) {
	c := pod.NewCursor(body, nil)
	sub, err := c.EnterStruct()
	if err != nil {
		return 0, err
	}
	v, err := sub.ReadInt()
	return NodeCommandOp(v), err
}

func encodeGlobalRemoved(id uint32) []byte {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(int32(id))
	b.End()
	return b.Bytes()
}
