package endpoints

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilink3gw/protocol"
)

type recordingPub struct {
	frames []*protocol.Frame
	bp     bool
}

func (p *recordingPub) Offer(connectionID uint64, frame *protocol.Frame) (PublishResult, int64, error) {
	if p.bp {
		return PublishBackPressured, 0, nil
	}
	p.frames = append(p.frames, frame)
	return Published, int64(len(p.frames)), nil
}

func TestReceiver_Poll_FramesCompleteMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pub := &recordingPub{}
	recv := NewReceiver(1, server, pub, 0)

	frame := &protocol.Frame{TemplateID: 7, Body: []byte("hello")}
	data, err := protocol.Pack(frame)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		client.Write(data)
		close(done)
	}()

	// net.Pipe is synchronous; give the writer a chance to hand off.
	server.SetReadDeadline(time.Now().Add(time.Second))
	var total int
	for total == 0 {
		n, bp, err := recv.Poll()
		require.NoError(t, err)
		assert.False(t, bp)
		total += n
		if n == 0 {
			break
		}
	}
	<-done

	require.Len(t, pub.frames, 1)
	assert.Equal(t, uint16(7), pub.frames[0].TemplateID)
	assert.Equal(t, []byte("hello"), pub.frames[0].Body)
}

func TestReceiver_Poll_BackpressureReported(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pub := &recordingPub{bp: true}
	recv := NewReceiver(1, server, pub, 0)

	frame := &protocol.Frame{Body: []byte("x")}
	data, _ := protocol.Pack(frame)
	go client.Write(data)

	server.SetReadDeadline(time.Now().Add(time.Second))
	_, bp, err := recv.Poll()
	require.NoError(t, err)
	assert.True(t, bp)
	assert.Empty(t, pub.frames)
}

func TestTable_RegisterAndRemoveKeepsCountsInSync(t *testing.T) {
	table := NewTable()
	c1, s1 := net.Pipe()
	defer c1.Close()
	defer s1.Close()

	recv := NewReceiver(1, s1, &recordingPub{}, 0)
	send := NewSender(1, s1)
	table.Register(1, recv, send)

	assert.Equal(t, 1, table.ReceiverCount())
	assert.Equal(t, 1, table.SenderCount())

	table.Remove(1)
	assert.Equal(t, 0, table.ReceiverCount())
	assert.Equal(t, 0, table.SenderCount())
}

func TestSender_WriteDeliversAllBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSender(1, server)

	readDone := make(chan []byte)
	go func() {
		buf := make([]byte, 5)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	err := sender.Write([]byte("hello"))
	require.NoError(t, err)
	got := <-readDone
	assert.Equal(t, []byte("hello"), got)
}
