package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"usv-nav/internal/avoidance"
	"usv-nav/internal/bluetooth"
	"usv-nav/internal/config"
	"usv-nav/internal/estimator"
	"usv-nav/internal/fusion"
	"usv-nav/internal/gps"
	"usv-nav/internal/imu"
	"usv-nav/internal/motor"
	"usv-nav/internal/nav"
	"usv-nav/internal/pid"
	"usv-nav/internal/pump"
	"usv-nav/internal/sim"
	"usv-nav/internal/transport"
	"usv-nav/internal/udp"
	"usv-nav/internal/ultrasonic"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("usv-nav starting")

	// Sensor sources: real hardware, or the simulator standing in for both.
	var fixSrc fusion.FixSource
	var attSrc fusion.AttitudeSource
	if cfg.Sim.Enable {
		vessel := sim.New(sim.Config{
			Enable:       true,
			CenterLatDeg: cfg.Sim.CenterLatDeg,
			CenterLonDeg: cfg.Sim.CenterLonDeg,
			RadiusM:      cfg.Sim.RadiusM,
			SpeedMS:      cfg.Sim.SpeedMS,
			FixInterval:  cfg.Sim.FixInterval,
			AttInterval:  cfg.Sim.AttInterval,
		})
		if err := vessel.Start(ctx); err != nil {
			log.Fatalf("sim start failed: %v", err)
		}
		defer vessel.Close()
		fixSrc, attSrc = vessel, vessel
	} else {
		gpsSvc := gps.New(gps.Config{
			Enable:        cfg.GPS.Enable,
			Device:        cfg.GPS.Device,
			Baud:          cfg.GPS.Baud,
			MinSatellites: cfg.GPS.MinSatellites,
		})
		if err := gpsSvc.Start(ctx); err != nil {
			log.Fatalf("gps start failed: %v", err)
		}
		defer gpsSvc.Close()

		imuSvc := imu.New(imu.Config{
			Enable:             cfg.IMU.Enable,
			Device:             cfg.IMU.Device,
			Baud:               cfg.IMU.Baud,
			CalibrationSamples: cfg.IMU.CalibrationSamples,
		})
		if err := imuSvc.Start(ctx); err != nil {
			log.Fatalf("imu start failed: %v", err)
		}
		defer imuSvc.Close()

		fixSrc, attSrc = gpsSvc, imuSvc
	}

	fusionSvc := fusion.New(fusion.Config{
		Interval:   cfg.Fusion.Interval,
		StaleAfter: cfg.Fusion.StaleAfter,
		Noise: estimator.NoiseConfig{
			PInit: cfg.Fusion.PInit,
			QPos:  cfg.Fusion.QPos, QVel: cfg.Fusion.QVel, QAtt: cfg.Fusion.QAtt,
			RGPSPos: cfg.Fusion.RGPSPos, RGPSVel: cfg.Fusion.RGPSVel, RIMUAtt: cfg.Fusion.RIMUAtt,
		},
	}, fixSrc, attSrc)
	if err := fusionSvc.Start(ctx); err != nil {
		log.Fatalf("fusion start failed: %v", err)
	}
	defer fusionSvc.Close()

	sonar := ultrasonic.New(ultrasonic.Config{
		Enable:       cfg.Ultrasonic.Enable,
		Device:       cfg.Ultrasonic.Device,
		Baud:         cfg.Ultrasonic.Baud,
		PollInterval: cfg.Ultrasonic.PollInterval,
		FilterWindow: cfg.Ultrasonic.FilterWindow,
		MinRangeMM:   cfg.Ultrasonic.MinRangeMM,
		MaxRangeMM:   cfg.Ultrasonic.MaxRangeMM,
	})
	if err := sonar.Start(ctx); err != nil {
		log.Fatalf("ultrasonic start failed: %v", err)
	}
	defer sonar.Close()

	driver := motor.New(motor.Config{
		Enable:         cfg.Motor.Enable,
		ChipPath:       cfg.Motor.ChipPath,
		LeftChannel:    cfg.Motor.LeftChannel,
		RightChannel:   cfg.Motor.RightChannel,
		PeriodNS:       cfg.Motor.PeriodNS,
		StopPulseNS:    cfg.Motor.StopPulseNS,
		ForwardPulseNS: cfg.Motor.ForwardPulseNS,
		ReversePulseNS: cfg.Motor.ReversePulseNS,
		SlowFraction:   cfg.Motor.SlowFraction,
		MediumFraction: cfg.Motor.MediumFraction,
		FastFraction:   cfg.Motor.FastFraction,
	})
	if err := driver.Open(); err != nil {
		log.Fatalf("motor open failed: %v", err)
	}
	defer driver.Close()

	pumps := pump.New(pump.Config{
		Enable:           cfg.Pump.Enable,
		Chip:             cfg.Pump.Chip,
		Pins:             pumpPins(cfg.Pump),
		FlowRateMLPerSec: cfg.Pump.FlowRateMLPerSec,
		PulseDuration:    cfg.Pump.PulseDuration,
		Iterations:       cfg.Pump.Iterations,
	})
	if err := pumps.Open(); err != nil {
		log.Fatalf("pump open failed: %v", err)
	}
	defer pumps.Close()

	system, err := nav.NewSystem(nav.Config{
		LoopInterval:      cfg.Nav.LoopInterval,
		AvoidanceInterval: cfg.Nav.AvoidanceInterval,
		PositionInterval:  cfg.Nav.PositionInterval,
		StopTimeout:       cfg.Nav.StopTimeout,
		CommandQueueSize:  cfg.Nav.CommandQueueSize,
		Controller: nav.ControllerConfig{
			Heading:                 pidConfig(cfg.Nav.Heading),
			Speed:                   pidConfig(cfg.Nav.Speed),
			TargetPrecisionM:        cfg.Nav.TargetPrecisionM,
			SpeedReductionDistanceM: cfg.Nav.SpeedReductionDistanceM,
			MaxHeadingErrorDeg:      cfg.Nav.MaxHeadingErrorDeg,
		},
		Avoidance: avoidanceConfig(cfg.Nav.Avoidance),
	}, nav.Deps{
		Estimator: fusionSvc,
		Obstacles: obstacleSource(cfg.Ultrasonic.Enable, sonar),
		Actuator:  driver,
		Pump:      pumps,
	})
	if err != nil {
		log.Fatalf("nav init failed: %v", err)
	}
	if err := system.Start(ctx); err != nil {
		log.Fatalf("nav start failed: %v", err)
	}
	defer system.Close()

	mqttSvc := transport.New(transport.Config{
		Enable:           cfg.MQTT.Enable,
		Broker:           cfg.MQTT.Broker,
		ClientID:         cfg.MQTT.ClientID,
		Username:         cfg.MQTT.Username,
		Password:         cfg.MQTT.Password,
		Keepalive:        cfg.MQTT.Keepalive,
		StatusInterval:   cfg.Nav.StatusInterval,
		PositionInterval: cfg.Nav.PositionInterval,
	}, system)
	if err := mqttSvc.Start(ctx); err != nil {
		log.Fatalf("mqtt start failed: %v", err)
	}
	defer mqttSvc.Close()

	bt := bluetooth.New(bluetooth.Config{
		Enable: cfg.Bluetooth.Enable,
		Device: cfg.Bluetooth.Device,
		Baud:   cfg.Bluetooth.Baud,
	}, system)
	if err := bt.Start(ctx); err != nil {
		// Bluetooth is a bench convenience; a missing rfcomm device should not
		// keep the vessel ashore.
		log.Printf("bluetooth start failed: %v", err)
	}
	defer bt.Close()

	status := udp.New(udp.Config{
		Enable:   cfg.Status.Enable,
		Dest:     cfg.Status.Dest,
		Interval: cfg.Status.Interval,
	}, system)
	if err := status.Start(ctx); err != nil {
		log.Fatalf("udp status start failed: %v", err)
	}
	defer status.Close()

	<-ctx.Done()
	log.Printf("usv-nav stopping")
}

func pidConfig(p config.PIDConfig) pid.Config {
	return pid.Config{
		Kp: p.Kp, Ki: p.Ki, Kd: p.Kd,
		OutputMin: p.OutputMin, OutputMax: p.OutputMax,
		IntegralMin: p.IntegralMin, IntegralMax: p.IntegralMax,
		Deadband:   p.Deadband,
		SampleTime: p.SampleTime,
	}
}

func avoidanceConfig(a config.AvoidanceConfig) avoidance.Config {
	return avoidance.Config{
		ImmediateStopMM: a.ImmediateStopMM,
		SlowApproachMM:  a.SlowApproachMM,
		TurnMM:          a.TurnMM,
		WarningMM:       a.WarningDistanceMM,
		TurnRight:       a.TurnDirection == "right",
	}
}

func pumpPins(p config.PumpConfig) []int {
	pins := []int{}
	if p.Bay1Pin != 0 {
		pins = append(pins, p.Bay1Pin)
	}
	if p.Bay2Pin != 0 {
		pins = append(pins, p.Bay2Pin)
	}
	return pins
}

// obstacleSource hides a disabled sonar from the orchestrator so it skips the
// avoidance loop entirely instead of reacting to permanent invalid readings.
func obstacleSource(enabled bool, s *ultrasonic.Service) nav.ObstacleSource {
	if !enabled {
		return nil
	}
	return s
}
