// Package voice holds the wire types and gRPC service descriptor of the voice
// gateway (service voice.v1.VoiceGateway, see voice.proto).
//
// The messages are plain Go structs that encode themselves in the protobuf
// binary format (see wire.go). This package replaces gRPC's default "proto"
// codec with ProtoCodec, which handles the voice messages and passes every
// other message, such as grpc.health.v1, to the original codec. Any standard
// protobuf client of voice.proto can therefore call the gateway. A JSON codec
// is also registered under the content-subtype "json"; clients select it per
// call with UseJSON.
package voice
