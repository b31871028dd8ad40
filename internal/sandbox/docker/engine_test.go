package docker

import (
	"fmt"

	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/benchroom/benchroom/pkg/container"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func (s *DockerTestSuite) TestNewEngine() {
	engine, err := NewEngine()
	s.Require().NoError(err)
	assert.NotNil(s.T(), engine)
}

func (s *DockerTestSuite) TestInspect() {
	s.backend.
		On("ContainerInspect", testSandboxID).
		Return(newContainer(testSandboxID, "running", nat.PortMap{
			"8080/tcp": {{HostIP: "0.0.0.0", HostPort: "49153"}},
		}), nil)

	sb, err := s.engine.Inspect(s.ctx, testSandboxID)
	s.Require().NoError(err)
	s.Equal(testSandboxID, sb.ID)
	s.Equal(testContainerName, sb.Name)
	s.Equal(sandbox.Running, sb.State)
	s.Equal("42", sb.Labels[sandbox.Label])

	port, ok := sb.HostPort("8080")
	s.True(ok)
	s.Equal(49153, port)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestInspectFallsBackToPortBindings() {
	resp := newContainer(testSandboxID, "created", nil)
	resp.HostConfig.PortBindings = nat.PortMap{
		"8080/tcp": {{HostPort: ""}, {HostPort: "40000"}},
	}
	s.backend.On("ContainerInspect", testSandboxID).Return(resp, nil)

	sb, err := s.engine.Inspect(s.ctx, testSandboxID)
	s.Require().NoError(err)
	s.Equal(sandbox.Created, sb.State)
	s.Equal(map[string]int{"8080/tcp": 40000}, sb.Ports)
}

func (s *DockerTestSuite) TestInspectUnknownState() {
	s.backend.
		On("ContainerInspect", testSandboxID).
		Return(newContainer(testSandboxID, "paused", nil), nil)

	sb, err := s.engine.Inspect(s.ctx, testSandboxID)
	s.Require().NoError(err)
	s.Equal(sandbox.Invalid, sb.State)
	s.Empty(sb.Ports)
}

func (s *DockerTestSuite) TestInspectNotFound() {
	s.backend.
		On("ContainerInspect", "gone").
		Return(dockercontainer.InspectResponse{}, errNotFound)

	sb, err := s.engine.Inspect(s.ctx, "gone")
	s.ErrorIs(err, sandbox.ErrNotFound)
	s.Nil(sb)
}

func (s *DockerTestSuite) TestInspectError() {
	s.backend.
		On("ContainerInspect", "").
		Return(dockercontainer.InspectResponse{}, fmt.Errorf("invalid container id"))

	sb, err := s.engine.Inspect(s.ctx, "")
	s.Error(err)
	s.NotErrorIs(err, sandbox.ErrNotFound)
	s.Nil(sb)
}

func (s *DockerTestSuite) TestLaunchAppliesSpec() {
	req := &sandbox.LaunchRequest{
		Name:  testContainerName,
		Image: testImage,
		Spec: container.Spec{
			Env: map[string]string{
				"INSTANCE_ID": "42",
				"GITHUB_REPO": "https://github.com/acme/kata",
			},
			User: "coder",
			Mounts: []container.Mount{{
				Type:   container.MountTypeBind,
				Source: "/srv/projects/42",
				Target: "/home/coder/project",
			}},
		},
		Ports:  []string{"8080"},
		Labels: map[string]string{sandbox.Label: "42"},
	}

	cfgMatcher := mock.MatchedBy(func(cfg *dockercontainer.Config) bool {
		_, exposed := cfg.ExposedPorts["8080/tcp"]
		return exposed &&
			cfg.User == "coder" &&
			len(cfg.Env) == 2 &&
			cfg.Env[0] == "GITHUB_REPO=https://github.com/acme/kata" &&
			cfg.Env[1] == "INSTANCE_ID=42" &&
			cfg.Labels[sandbox.Label] == "42"
	})

	hostMatcher := mock.MatchedBy(func(host *dockercontainer.HostConfig) bool {
		if host == nil || len(host.Mounts) != 1 {
			return false
		}
		bindings := host.PortBindings["8080/tcp"]
		m := host.Mounts[0]
		return len(bindings) == 1 && bindings[0].HostPort == "" &&
			m.Source == "/srv/projects/42" && m.Target == "/home/coder/project" && m.Type == mount.TypeBind
	})

	s.backend.
		On("ContainerCreate", cfgMatcher, hostMatcher, req.Name).
		Return(dockercontainer.CreateResponse{ID: testSandboxID}, nil)
	s.backend.On("ContainerStart", testSandboxID).Return(nil)
	s.backend.
		On("ContainerInspect", testSandboxID).
		Return(newContainer(testSandboxID, "running", nat.PortMap{"8080/tcp": {{HostPort: "32768"}}}), nil)

	sb, err := s.engine.Launch(s.ctx, req)
	s.Require().NoError(err)
	port, ok := sb.HostPort("8080/tcp")
	s.True(ok)
	s.Equal(32768, port)
	s.backend.AssertNotCalled(s.T(), "ImagePull", mock.Anything)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestLaunchPullsWhenAsked() {
	req := &sandbox.LaunchRequest{Name: testContainerName, Image: testImage, Pull: true}

	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.
		On("ContainerCreate", mock.AnythingOfType("*container.Config"), mock.Anything, req.Name).
		Return(dockercontainer.CreateResponse{ID: testSandboxID}, nil)
	s.backend.On("ContainerStart", testSandboxID).Return(nil)
	s.backend.
		On("ContainerInspect", testSandboxID).
		Return(newContainer(testSandboxID, "running", nil), nil)

	_, err := s.engine.Launch(s.ctx, req)
	s.Require().NoError(err)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestLaunchPullError() {
	req := &sandbox.LaunchRequest{Name: testContainerName, Image: "", Pull: true}

	s.backend.On("ImagePull", "").Return(fmt.Errorf("invalid image"))

	sb, err := s.engine.Launch(s.ctx, req)
	s.Error(err)
	s.Nil(sb)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestLaunchCreateError() {
	req := &sandbox.LaunchRequest{Name: "fail", Image: testImage}

	s.backend.
		On("ContainerCreate", mock.AnythingOfType("*container.Config"), mock.Anything, req.Name).
		Return(dockercontainer.CreateResponse{}, fmt.Errorf("invalid container image"))

	sb, err := s.engine.Launch(s.ctx, req)
	s.Error(err)
	s.Nil(sb)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestLaunchStartErrorRemovesContainer() {
	req := &sandbox.LaunchRequest{Name: testContainerName, Image: testImage}

	s.backend.
		On("ContainerCreate", mock.AnythingOfType("*container.Config"), mock.Anything, req.Name).
		Return(dockercontainer.CreateResponse{ID: testSandboxID}, nil)
	s.backend.On("ContainerStart", testSandboxID).Return(fmt.Errorf("port already allocated"))
	s.backend.On("ContainerRemove", testSandboxID, mock.Anything).Return(nil)

	sb, err := s.engine.Launch(s.ctx, req)
	s.Error(err)
	s.Nil(sb)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestLaunchInvalidPort() {
	_, err := s.engine.Launch(s.ctx, &sandbox.LaunchRequest{Image: testImage, Ports: []string{"http/tcp"}})
	s.Error(err)
	s.backend.AssertNotCalled(s.T(), "ContainerCreate", mock.Anything, mock.Anything, mock.Anything)
}

func (s *DockerTestSuite) TestRemove() {
	s.backend.On("ContainerStop", testSandboxID).Return(nil)
	s.backend.
		On("ContainerRemove", testSandboxID, mock.MatchedBy(func(opts dockercontainer.RemoveOptions) bool {
			return opts.Force && opts.RemoveVolumes
		})).
		Return(nil)

	s.NoError(s.engine.Remove(s.ctx, &sandbox.RemoveRequest{ID: testSandboxID}))
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestRemoveStopFailureStillRemoves() {
	s.backend.On("ContainerStop", testSandboxID).Return(fmt.Errorf("timeout"))
	s.backend.On("ContainerRemove", testSandboxID, mock.Anything).Return(nil)

	s.NoError(s.engine.Remove(s.ctx, &sandbox.RemoveRequest{ID: testSandboxID}))
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestRemoveNotFound() {
	s.backend.On("ContainerStop", "gone").Return(errNotFound)

	err := s.engine.Remove(s.ctx, &sandbox.RemoveRequest{ID: "gone"})
	s.ErrorIs(err, sandbox.ErrNotFound)
	s.backend.AssertNotCalled(s.T(), "ContainerRemove", mock.Anything, mock.Anything)
}

func (s *DockerTestSuite) TestList() {
	s.backend.
		On("ContainerList", mock.MatchedBy(func(opts dockercontainer.ListOptions) bool {
			return opts.All && opts.Filters.ExactMatch("label", sandbox.Label)
		})).
		Return([]dockercontainer.Summary{{
			ID:     testSandboxID,
			Names:  []string{"/" + testContainerName},
			State:  "exited",
			Labels: map[string]string{sandbox.Label: "42"},
			Ports: []dockercontainer.Port{
				{PrivatePort: 8080, PublicPort: 49153, Type: "tcp"},
				{PrivatePort: 9000, Type: "tcp"},
			},
			Created: 1700000000,
		}}, nil)

	list, err := s.engine.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(testContainerName, list[0].Name)
	s.Equal(sandbox.Stopped, list[0].State)
	s.Equal(map[string]int{"8080/tcp": 49153}, list[0].Ports)
}

func (s *DockerTestSuite) TestListError() {
	s.backend.
		On("ContainerList", mock.Anything).
		Return([]dockercontainer.Summary(nil), fmt.Errorf("daemon unavailable"))

	list, err := s.engine.List(s.ctx)
	s.Error(err)
	s.Nil(list)
}
