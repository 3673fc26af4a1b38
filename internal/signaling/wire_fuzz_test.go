package signaling

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func FuzzDecodeFrame(f *testing.F) {
	// Known-good cases.
	f.Add([]byte(`{"signal":"message","data":{"payload":{"type":"offer","sdp":"v=0"},"to":"b"}}`))
	f.Add([]byte(`{"signal":"message","data":{"payload":"hi"}}`))
	f.Add([]byte(`{"signal":"message","data":{"payload":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"},"from":"spoofed","to":"b"}}`))

	// Known-bad and edge cases from unit tests and common client mistakes.
	f.Add([]byte(`{"signal":"message"}`))
	f.Add([]byte(`{"signal":"message","data":null}`))
	f.Add([]byte(`{"signal":"message","data":"str"}`))
	f.Add([]byte(`{"signal":"message","data":{"to":5}}`))
	f.Add([]byte(`{"signal":"enter","data":{"peerId":"x"}}`))
	f.Add([]byte(`{"signal":"message","data":{"payload":"< >"}}`))
	f.Add([]byte(`not json`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		env1, err1 := DecodeFrame(data)
		env2, err2 := DecodeFrame(data)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("non-deterministic decode result: err1=%v err2=%v", err1, err2)
		}
		if err1 != nil {
			if env1 != nil {
				t.Fatalf("DecodeFrame returned an envelope with error %v", err1)
			}
			return
		}
		if !reflect.DeepEqual(env1, env2) {
			t.Fatalf("non-deterministic decode output: env1=%#v env2=%#v", env1, env2)
		}
		if env1 == nil {
			return
		}

		// Whatever we accept must survive being relayed as a message frame.
		frame, err := messageFrame(env1)
		if err != nil {
			t.Fatalf("messageFrame: %v", err)
		}
		raw, err := json.Marshal(frame)
		if err != nil {
			t.Fatalf("marshal frame: %v", err)
		}
		round, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("re-decode relayed frame: %v (json=%q)", err, raw)
		}
		if round == nil {
			t.Fatalf("relayed frame decoded to no envelope (json=%q)", raw)
		}
		if round.From != env1.From || round.To != env1.To {
			t.Fatalf("round-trip mismatch: env=%#v round=%#v", env1, round)
		}

		again, err := messageFrame(round)
		if err != nil {
			t.Fatalf("messageFrame: %v", err)
		}
		if !bytes.Equal(frame.Data, again.Data) {
			t.Fatalf("relayed encoding unstable: first=%q second=%q", frame.Data, again.Data)
		}
	})
}
