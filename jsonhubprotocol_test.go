package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func boolPtr(b bool) *bool { return &b }

var _ = Describe("JSONHubProtocol", func() {
	protocol := &JSONHubProtocol{}
	protocol.setDebugLogger(testLogger())

	Describe("WriteMessage/ParseMessages roundtrip", func() {
		for _, m := range []Message{
			InvocationMessage{Type: messageTypeInvocation, Target: "A", Arguments: []json.RawMessage{}},
			InvocationMessage{Type: messageTypeInvocation, Target: "A", InvocationID: "B",
				Arguments: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`"two"`), json.RawMessage(`{"x":3}`)}},
			InvocationMessage{Type: messageTypeInvocation, Target: "A", InvocationID: "B",
				Arguments: []json.RawMessage{json.RawMessage(`[1000,2]`)}, StreamIds: []string{"C", "D"}},
			InvocationMessage{Type: messageTypeStreamInvocation, Target: "S", InvocationID: "1",
				Arguments: []json.RawMessage{json.RawMessage(`5`)}},
			StreamItemMessage{Type: messageTypeStreamItem, InvocationID: "1", Item: json.RawMessage(`"3"`)},
			StreamItemMessage{Type: messageTypeStreamItem, InvocationID: "2", Item: json.RawMessage(`{"as_int":3,"as_string":"3"}`)},
			CompletionMessage{Type: messageTypeCompletion, InvocationID: "1", Result: json.RawMessage(`3`)},
			CompletionMessage{Type: messageTypeCompletion, InvocationID: "2", Error: "bad luck"},
			CompletionMessage{Type: messageTypeCompletion, InvocationID: "3"},
			CancelInvocationMessage{Type: messageTypeCancelInvocation, InvocationID: "4"},
			PingMessage{Type: messageTypePing},
			CloseMessage{Type: messageTypeClose, Error: "bye"},
			CloseMessage{Type: messageTypeClose, AllowReconnect: boolPtr(false)},
		} {
			want := m
			It(fmt.Sprintf("should be equal after roundtrip of %#v", want), func() {
				data, err := protocol.WriteMessage(want)
				Expect(err).NotTo(HaveOccurred())
				got, err := protocol.ParseMessages(data)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(HaveLen(1))
				Expect(got[0]).To(Equal(want))
			})
		}

		It("should yield both messages of a concatenation in order", func() {
			a := InvocationMessage{Type: messageTypeInvocation, Target: "first",
				Arguments: []json.RawMessage{json.RawMessage(`1`)}}
			b := CompletionMessage{Type: messageTypeCompletion, InvocationID: "1", Result: json.RawMessage(`2`)}
			dataA, err := protocol.WriteMessage(a)
			Expect(err).NotTo(HaveOccurred())
			dataB, err := protocol.WriteMessage(b)
			Expect(err).NotTo(HaveOccurred())
			got, err := protocol.ParseMessages(append(dataA, dataB...))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]Message{a, b}))
		})
	})

	Describe("Framing", func() {
		It("should terminate every frame with the record separator and use it nowhere else", func() {
			data, err := protocol.WriteMessage(InvocationMessage{Type: messageTypeInvocation,
				Target: "A", Arguments: []json.RawMessage{json.RawMessage(`"text with \u001e escaped"`)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(data[len(data)-1]).To(Equal(byte(recordSeparator)))
			Expect(bytes.IndexByte(data[:len(data)-1], recordSeparator)).To(Equal(-1))
		})

		It("should skip empty texts between separators", func() {
			got, err := protocol.ParseMessages([]byte("\x1e\x1e{\"type\":6}\x1e\x1e"))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]Message{PingMessage{Type: messageTypePing}}))
		})

		It("should fail on a partial message after the last separator", func() {
			_, err := protocol.ParseMessages([]byte("{\"type\":6}\x1e{\"type\":6"))
			var protocolError *ProtocolError
			Expect(err).To(BeAssignableToTypeOf(protocolError))
		})

		It("should fail on malformed JSON", func() {
			_, err := protocol.ParseMessages([]byte("{\"type\":oops}\x1e"))
			var protocolError *ProtocolError
			Expect(err).To(BeAssignableToTypeOf(protocolError))
		})
	})

	Describe("Forward compatibility", func() {
		It("should ignore messages with an unknown type tag", func() {
			got, err := protocol.ParseMessages([]byte("{\"type\":9,\"future\":true}\x1e{\"type\":6}\x1e"))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]Message{PingMessage{Type: messageTypePing}}))
		})
	})

	Describe("Completion validation", func() {
		It("should reject a completion carrying both result and error", func() {
			_, err := protocol.ParseMessages([]byte("{\"type\":3,\"invocationId\":\"1\",\"result\":1,\"error\":\"no\"}\x1e"))
			var protocolError *ProtocolError
			Expect(err).To(BeAssignableToTypeOf(protocolError))
		})
	})

	Describe("Handshake", func() {
		It("should request the json protocol version 1", func() {
			request, err := protocol.HandshakeRequest()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(request)).To(Equal("{\"protocol\":\"json\",\"version\":1}\x1e"))
		})

		It("should parse a bare handshake response", func() {
			response, remainder, err := protocol.ParseHandshake([]byte("{}\x1e"))
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Error).To(Equal(""))
			Expect(remainder).To(BeEmpty())
		})

		It("should parse the error of a failed handshake", func() {
			response, _, err := protocol.ParseHandshake([]byte("{\"error\":\"bad proto\"}\x1e"))
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Error).To(Equal("bad proto"))
		})

		It("should return messages concatenated after the response as remainder", func() {
			response, remainder, err := protocol.ParseHandshake([]byte("{}\x1e{\"type\":6}\x1e"))
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Error).To(Equal(""))
			got, err := protocol.ParseMessages(remainder)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]Message{PingMessage{Type: messageTypePing}}))
		})

		It("should fail on a response without separator", func() {
			_, _, err := protocol.ParseHandshake([]byte("{}"))
			var handshakeError *HandshakeError
			Expect(err).To(BeAssignableToTypeOf(handshakeError))
		})

		It("should fail on a malformed response", func() {
			_, _, err := protocol.ParseHandshake([]byte("nope\x1e"))
			var handshakeError *HandshakeError
			Expect(err).To(BeAssignableToTypeOf(handshakeError))
		})
	})
})
