package engine

import (
	"errors"
	"net"

	"github.com/YiuTerran/go-gamenet/network"
	"go.uber.org/multierr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeListener Serve阻塞到Close
type fakeListener struct {
	kind    network.TransportKind
	bindErr error
	done    chan struct{}
	served  chan struct{}
}

func newFakeListener(kind network.TransportKind, bindErr error) *fakeListener {
	return &fakeListener{kind: kind, bindErr: bindErr, done: make(chan struct{}), served: make(chan struct{})}
}

func (f *fakeListener) Kind() network.TransportKind { return f.kind }
func (f *fakeListener) Bind() error                 { return f.bindErr }
func (f *fakeListener) Addr() net.Addr              { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (f *fakeListener) Serve(network.Events) error {
	close(f.served)
	<-f.done
	return nil
}

func (f *fakeListener) Close() error {
	close(f.done)
	return nil
}

var _ = Describe("Acceptor", func() {
	It("should keep running when only some transports bind", func() {
		bindErr := errors.New("address in use")
		good := newFakeListener(network.TCP, nil)
		bad := newFakeListener(network.UDP, bindErr)
		a := NewAcceptor(nil, good, bad)

		err := a.Setup()
		Expect(err).To(MatchError(bindErr))
		Expect(multierr.Errors(err)).To(HaveLen(1))
		Expect(a.State()).To(Equal(SettingUp))
		Expect(a.Setup()).To(MatchError(ErrInvalidState))

		Expect(a.Start()).To(Succeed())
		Expect(a.State()).To(Equal(Running))
		Eventually(good.served).Should(BeClosed())
		Expect(a.Addrs()).To(HaveKey(network.TCP))
		Expect(a.Addrs()).ToNot(HaveKey(network.UDP))

		Expect(a.Stop(0)).To(BeTrue())
		Expect(a.State()).To(Equal(Stopped))
		Expect(a.Stop(0)).To(BeTrue())
	})

	It("should report when nothing binds", func() {
		a := NewAcceptor(nil,
			newFakeListener(network.TCP, errors.New("a")),
			newFakeListener(network.UDP, errors.New("b")))
		err := a.Setup()
		Expect(err).To(MatchError(ErrNoListener))
		Expect(multierr.Errors(err)).To(HaveLen(3))
		Expect(a.State()).To(Equal(Stopped))
		Expect(a.Start()).To(MatchError(ErrInvalidState))
	})
})
