package signalr

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("PushStream", func() {
	It("should announce the stream, push the items and complete it", func(done Done) {
		server := newFakeServer()
		client := newTestClient(server)
		conn, runErr := runTestClient(context.Background(), client, server)

		stream, err := client.PushStream(context.Background(), "UploadReadings", "sensor-1")
		Expect(err).NotTo(HaveOccurred())
		frame, err := nextFrameOfType(conn, messageTypeInvocation, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame["target"]).To(Equal("UploadReadings"))
		Expect(frame).NotTo(HaveKey("invocationId"))
		Expect(frame["arguments"]).To(Equal([]interface{}{"sensor-1"}))
		streamIds := frame["streamIds"].([]interface{})
		Expect(streamIds).To(HaveLen(1))
		streamID := streamIds[0].(string)

		for _, item := range []int{1, 2, 3} {
			Expect(stream.Send(item)).NotTo(HaveOccurred())
			frame, err = nextFrameOfType(conn, messageTypeStreamItem, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(frame["invocationId"]).To(Equal(streamID))
			Expect(frame["item"]).To(Equal(float64(item)))
		}

		Expect(stream.Complete()).NotTo(HaveOccurred())
		frame, err = nextFrameOfType(conn, messageTypeCompletion, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame["invocationId"]).To(Equal(streamID))
		Expect(frame).NotTo(HaveKey("result"))
		Expect(frame).NotTo(HaveKey("error"))

		Expect(client.Close()).NotTo(HaveOccurred())
		Expect(<-runErr).NotTo(HaveOccurred())
		close(done)
	}, 5.0)

	It("should refuse to send after completion", func(done Done) {
		server := newFakeServer()
		client := newTestClient(server)
		conn, runErr := runTestClient(context.Background(), client, server)

		stream, err := client.PushStream(context.Background(), "UploadReadings")
		Expect(err).NotTo(HaveOccurred())
		_, err = nextFrameOfType(conn, messageTypeInvocation, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(stream.Complete()).NotTo(HaveOccurred())
		// completing twice is fine, sending afterwards is not
		Expect(stream.Complete()).NotTo(HaveOccurred())
		Expect(stream.Send(1)).To(HaveOccurred())

		Expect(client.Close()).NotTo(HaveOccurred())
		Expect(<-runErr).NotTo(HaveOccurred())
		close(done)
	}, 5.0)
})
