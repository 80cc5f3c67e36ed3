// Package srt implements the SRT (Secure Reliable Transport) edge: a
// listener-mode Server that accepts layer publications and playback
// connections, and a caller-mode Caller that pulls layers from remote SRT
// sources. Every SRT message carries exactly one RTP packet.
package srt
